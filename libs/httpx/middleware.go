package httpx

import (
	"net/http"
	"time"
)

type Middleware func(http.Handler) http.Handler

func passthrough(next http.Handler) http.Handler { return next }

func Chain(h http.Handler, m ...Middleware) http.Handler {
	// Apply in reverse so Chain(h, a, b) becomes a(b(h)).
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// WithBodyLimit caps request bodies at limitBytes; decoders then fail with *http.MaxBytesError.
// A non-positive limit disables the cap.
func WithBodyLimit(limitBytes int64) Middleware {
	if limitBytes <= 0 {
		return passthrough
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limitBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// WithTimeout answers 503 with a JSON error once d elapses. A non-positive d disables it.
func WithTimeout(d time.Duration) Middleware {
	if d <= 0 {
		return passthrough
	}
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"error":"request timed out","code":"TIMEOUT"}`)
	}
}
