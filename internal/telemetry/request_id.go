package telemetry

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/mediagrab/mediagrab/internal/logctx"
)

// RequestIDHeader carries the request identifier on requests and responses.
const RequestIDHeader = "X-Request-ID"

// RequestID middleware assigns each request a unique identifier, reusing an
// upstream X-Request-ID header when present. The identifier is echoed on the
// response and stamped onto the request-scoped logger so every log line
// downstream carries it.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, requestID)

		logger := logctx.LoggerFromContext(r.Context()).With("request_id", requestID)
		ctx := logctx.WithLogger(r.Context(), logger)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
