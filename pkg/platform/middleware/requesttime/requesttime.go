// Package requesttime pins one "now" per HTTP request so deadlines, audit
// timestamps and token expiry computed during the request agree.
package requesttime

import (
	"net/http"
	"time"

	"dsrengine/pkg/requestcontext"
)

// Middleware pins the wall clock.
func Middleware(next http.Handler) http.Handler {
	return New(time.Now)(next)
}

// New pins clock() in UTC at microsecond precision, which is what Postgres
// keeps, so a deadline computed during the request reads back unchanged.
func New(clock func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := clock().UTC().Truncate(time.Microsecond)
			next.ServeHTTP(w, r.WithContext(requestcontext.WithTime(r.Context(), now)))
		})
	}
}
