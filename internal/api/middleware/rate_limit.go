package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/funds-movement/internal/api/problem"
	"github.com/go-chi/httprate"
)

// PublicRateLimiter limits requests per IP for unauthenticated routes.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(limitExceeded(fmt.Sprintf("Rate limit of %d req/s exceeded for this IP", rps))),
	)
}

// AuthRateLimiter limits authenticated users by user ID, so one caller
// cannot monopolise the Accounts service through this one.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if userID := UserIDFromContext(r.Context()); userID != "" {
				return "user:" + userID, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(limitExceeded(fmt.Sprintf("Rate limit of %d req/s exceeded for this user", rps))),
	)
}

func limitExceeded(detail string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		problem.Write(
			w,
			r,
			http.StatusTooManyRequests,
			problem.Type("rate-limit-exceeded"),
			http.StatusText(http.StatusTooManyRequests),
			detail,
		)
	}
}
