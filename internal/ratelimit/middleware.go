package ratelimit

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sabtedu/counterd/internal/counter"
)

// KeyFunc extracts the rate limit key from a request. An empty key skips
// limiting for that request.
type KeyFunc func(r *http.Request) string

// Middleware returns HTTP middleware enforcing limiter per key. A nil
// limiter and limiter errors both fail open.
func Middleware(limiter Limiter, keyFunc KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ok, err := limiter.Allow(r.Context(), key)
			if err != nil || ok {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Retry-After", "1")
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(counter.NewError(
				"E_RATE_LIMITED", "تعداد درخواست‌ها بیش از حد مجاز است.", nil))
		})
	}
}

// IPKeyFunc keys requests by client IP taken from RemoteAddr only.
// X-Forwarded-For is not trusted: any client can set it to an arbitrary
// value and bypass the limit. Behind a trusted reverse proxy, configure the
// proxy to rewrite RemoteAddr instead.
func IPKeyFunc(r *http.Request) string {
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
