package middleware

import (
	"net/http"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/onnwee/event-companion/backend/internal/apierr"
)

// Throttle rejects requests with 429 once the shared limiter has no tokens
// left. The diagnostics API uses it on routes that mutate the cache or kick
// a sync.
func Throttle(l *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := l.Reserve()
			if !res.OK() {
				apierr.WriteErrorWithContext(w, r, apierr.RateLimited())
				return
			}
			if d := res.Delay(); d > 0 {
				res.Cancel()
				secs := int(d.Seconds())
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				apierr.WriteErrorWithContext(w, r, apierr.RateLimited())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
