package rest

import "net/http"

// SecurityHeaders injects defensive headers on every response: no MIME
// sniffing, no framing, no referrer leakage, and no caching of one-time
// artifacts.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("X-Content-Type-Options", "nosniff")
		header.Set("X-Frame-Options", "DENY")
		header.Set("Referrer-Policy", "no-referrer")
		header.Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}
