package store

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// allowedExtensions is the closed set of extensions the service stores and
// serves. Everything else is rejected, both as tool output and as a
// retrieval request.
var allowedExtensions = map[string]struct{}{
	".mp4":  {},
	".webm": {},
	".mkv":  {},
	".mp3":  {},
	".m4a":  {},
	".opus": {},
	".ogg":  {},
	".flv":  {},
	".avi":  {},
	".mov":  {},
}

// AllowedExtension reports whether ext (including the leading dot) is in the
// whitelist. Matching is case-insensitive.
func AllowedExtension(ext string) bool {
	_, ok := allowedExtensions[strings.ToLower(ext)]

	return ok
}

// NewName returns a fresh opaque filename for a stored artifact. The caller
// must have validated the extension against the whitelist.
func NewName(ext string) string {
	return uuid.NewString() + strings.ToLower(ext)
}

// ValidateName rejects retrieval filenames that could escape the store root
// or reference a type the service never produces. It runs before any lookup,
// even though served filenames are server-generated, because the retrieval
// endpoint accepts caller-supplied input.
func ValidateName(name string) error {
	if name == "" {
		return &BadNameError{Name: name, Reason: "empty filename"}
	}

	if strings.ContainsAny(name, `/\`) {
		return &BadNameError{Name: name, Reason: "path separators are not allowed"}
	}

	if strings.Contains(name, "..") {
		return &BadNameError{Name: name, Reason: "parent directory references are not allowed"}
	}

	if ext := filepath.Ext(name); !AllowedExtension(ext) {
		return &BadNameError{Name: name, Reason: fmt.Sprintf("extension %q is not allowed", ext)}
	}

	return nil
}
