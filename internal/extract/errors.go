package extract

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// InvalidURLError represents a submitted URL that failed validation before
// any job was started: unparseable input, a non-http(s) scheme, or a
// missing host.
type InvalidURLError struct {
	URL    string // The URL as submitted by the client
	Reason string // Human-readable explanation of why the URL was rejected
	Err    error  // Underlying error, if any
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid media URL %q: %s", e.URL, e.Reason)
}

func (e *InvalidURLError) Unwrap() error {
	return e.Err
}

// ToolUnavailableError represents an extraction tool that is missing from
// the host or cannot be started. This is a service-level condition, not a
// per-request content error.
type ToolUnavailableError struct {
	Tool string // The tool name or path that could not be resolved or run
	Err  error  // Underlying error, if any
}

func (e *ToolUnavailableError) Error() string {
	return fmt.Sprintf("%s is not available on this host", e.Tool)
}

func (e *ToolUnavailableError) Unwrap() error {
	return e.Err
}

// TimeoutError represents a job that exceeded its deadline and was
// forcibly terminated. Partial output has already been removed.
type TimeoutError struct {
	URL     string        // The URL whose job timed out
	Timeout time.Duration // The configured job timeout
	Err     error         // Underlying error, if any
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("download timed out after %s", e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// TooLargeError represents an output that exceeded the per-file size
// ceiling, either skipped by the tool itself or caught on re-check.
type TooLargeError struct {
	URL   string // The URL whose output was too large
	Size  int64  // Observed size in bytes; 0 when the tool skipped the file preemptively
	Limit int64  // The configured ceiling in bytes
}

func (e *TooLargeError) Error() string {
	if e.Size > 0 {
		return fmt.Sprintf("file is %s, over the %s limit", humanize.IBytes(uint64(e.Size)), humanize.IBytes(uint64(e.Limit)))
	}

	return fmt.Sprintf("file exceeds the %s limit", humanize.IBytes(uint64(e.Limit)))
}

// ExtractionError represents the tool reporting a content-level failure:
// non-zero exit, unsupported URL, private or removed content, or an output
// set other than exactly one whitelisted file. Diagnostic is sanitized and
// safe to surface to clients; Stderr is the raw tool output for logs only.
type ExtractionError struct {
	URL        string  // The URL whose extraction failed
	Service    Service // Service family of the failed job
	Diagnostic string  // Sanitized description, safe for API responses
	Stderr     string  // Raw tool stderr; never crosses the API boundary
	Err        error   // Underlying error, if any
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed: %s", e.Diagnostic)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
