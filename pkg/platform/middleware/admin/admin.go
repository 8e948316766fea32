package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	dErrors "dsrengine/pkg/domain-errors"
	"dsrengine/pkg/platform/httputil"
	request "dsrengine/pkg/platform/middleware/request"
)

// RequireAdminToken guards infrastructure endpoints such as the metrics
// scrape with a static X-Admin-Token. An empty expected token leaves the
// endpoint open.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if expectedToken == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Admin-Token")
			if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", request.GetRequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
