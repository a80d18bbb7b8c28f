package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"backoffice-serverless/internal/token"
)

type claimsKey struct{}

// RequireAccess rejects requests without a valid access token and stores the
// verified claims in the request context.
func RequireAccess(service *Service, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := service.Authenticate(r.Context(), AccessToken(r))
			if err != nil {
				writeAuthError(w, r, logger, err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*token.Claims)
	return claims, ok && claims != nil
}
