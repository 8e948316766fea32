// Package auth authenticates operators. Data subjects never hold tokens:
// identity verification is their authentication.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	dErrors "dsrengine/pkg/domain-errors"
	"dsrengine/pkg/platform/httputil"
	request "dsrengine/pkg/platform/middleware/request"
	"dsrengine/pkg/requestcontext"
)

// RoleOperator may inspect, annotate and cancel any request.
const RoleOperator = "dsr_operator"

// JWTValidator defines the interface for validating operator tokens.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims is what the middleware needs from a validated token.
type JWTClaims struct {
	Operator string
	Role     string
	JTI      string
}

type contextKeyOperator struct{}

// GetOperator returns the authenticated operator, or "" outside RequireOperator.
func GetOperator(ctx context.Context) string {
	op, _ := ctx.Value(contextKeyOperator{}).(string)
	return op
}

// WithOperator injects an authenticated operator, as RequireOperator does.
func WithOperator(ctx context.Context, operator string) context.Context {
	ctx = context.WithValue(ctx, contextKeyOperator{}, operator)
	return requestcontext.WithActor(ctx, operator)
}

// RequireOperator rejects requests without a valid operator bearer token.
// The operator becomes the actor on every audit event of the request.
func RequireOperator(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", request.GetRequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}
			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"request_id", request.GetRequestID(ctx),
					"error", err,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token"))
				return
			}
			if claims.Role != RoleOperator || claims.Operator == "" {
				logger.WarnContext(ctx, "forbidden - token lacks operator role",
					"request_id", request.GetRequestID(ctx),
					"jti", claims.JTI,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "operator role required"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOperator(ctx, claims.Operator)))
		})
	}
}
