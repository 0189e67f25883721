package rest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/mediagrab/mediagrab/internal/admission"
	"github.com/mediagrab/mediagrab/internal/extract"
	"github.com/mediagrab/mediagrab/internal/logctx"
	"github.com/mediagrab/mediagrab/internal/store"
)

// writeMappedError translates internal failures into the closed public
// vocabulary. Only sanitized text reaches the response body; raw diagnostics
// stay in the error chain for logs.
func (h *DownloadHandler) writeMappedError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		invalidURL  *extract.InvalidURLError
		rateLimited *admission.RateLimitedError
		quota       *store.QuotaExceededError
		tooLarge    *extract.TooLargeError
		toolMissing *extract.ToolUnavailableError
		timeout     *extract.TimeoutError
		extraction  *extract.ExtractionError
		badName     *store.BadNameError
	)

	switch {
	case errors.As(err, &invalidURL):
		writeError(w, http.StatusUnprocessableEntity, "Only HTTP and HTTPS URLs are supported.")
	case errors.As(err, &rateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(rateLimited.RetryAfter)))
		writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again later.")
	case errors.As(err, &quota):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(h.quotaRetryAfter)))
		writeError(w, http.StatusTooManyRequests, "Storage quota exhausted. Try again later.")
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "File too large: "+tooLarge.Error()+".")
	case errors.As(err, &toolMissing):
		writeError(w, http.StatusServiceUnavailable, "The download tool is not available on this server.")
	case errors.As(err, &timeout):
		writeError(w, http.StatusGatewayTimeout, fmt.Sprintf("Download timed out after %d seconds.", int(timeout.Timeout.Seconds())))
	case errors.As(err, &extraction):
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("%s download failed: %s", extraction.Service.DisplayName(), extraction.Diagnostic))
	case errors.As(err, &badName):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid filename: %s.", badName.Reason))
	default:
		logctx.LoggerFromContext(ctx).Error("unhandled internal error", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error.")
	}
}

// retryAfterSeconds renders a duration as whole seconds for the Retry-After
// header, rounding up so a hint of 0 never tells the client to retry
// immediately.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}

	return secs
}
