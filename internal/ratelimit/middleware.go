package ratelimit

import (
	"net/http"
	"strconv"
)

// DefaultRetryAfterSeconds is the Retry-After value sent with a blocked response.
const DefaultRetryAfterSeconds = 10

// BlockedMiddleware rejects requests whose key is blocked with 423 Locked, the
// status CAS uses for its authentication-blocked view. Requests for which key
// returns "" pass through.
func BlockedMiddleware(t *Throttle, key func(r *http.Request) string, blocked http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" || !t.Blocked(k) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Retry-After", strconv.Itoa(DefaultRetryAfterSeconds))
			if blocked != nil {
				blocked.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusLocked)
			w.Write([]byte("Too many failed login attempts"))
		})
	}
}
