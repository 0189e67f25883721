package extract

import (
	"regexp"
	"strings"
)

// pathPattern matches absolute filesystem path shapes, Unix and Windows,
// so server directory structure never leaks into API responses.
var pathPattern = regexp.MustCompile(`([A-Za-z]:\\|/)[^\s"']+`)

const (
	unsupportedSiteMessage    = "The provided URL is not supported."
	contentUnavailableMessage = "The requested content is unavailable or private."
)

// unsupportedPhrases and unavailablePhrases are fragments of known tool
// diagnostics that map to a friendlier, still sanitized message.
var (
	unsupportedPhrases = []string{
		"Unsupported URL",
		"is not a valid URL",
	}

	unavailablePhrases = []string{
		"Private video",
		"Video unavailable",
		"This content isn't available",
		"has been removed",
		"account has been terminated",
	}
)

// SanitizeDiagnostic reduces raw tool output to at most the last two
// non-empty lines, maps recognized phrases to canned messages, and redacts
// filesystem paths from whatever remains. The result is safe to place in an
// API error response; the raw output should only ever reach logs.
func SanitizeDiagnostic(raw string) string {
	var lines []string

	for _, ln := range strings.Split(raw, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			lines = append(lines, ln)
		}
	}

	if len(lines) == 0 {
		return "Unknown error."
	}

	if len(lines) > 2 {
		lines = lines[len(lines)-2:]
	}

	excerpt := strings.Join(lines, " | ")

	for _, phrase := range unsupportedPhrases {
		if strings.Contains(excerpt, phrase) {
			return unsupportedSiteMessage
		}
	}

	for _, phrase := range unavailablePhrases {
		if strings.Contains(excerpt, phrase) {
			return contentUnavailableMessage
		}
	}

	return pathPattern.ReplaceAllString(excerpt, "<redacted>")
}
