package middleware

import (
	"context"
	"net/http"

	"github.com/lumina-photos/lumina-backend/api/responses"
	"github.com/lumina-photos/lumina-backend/pkg/auth"
	"github.com/lumina-photos/lumina-backend/pkg/config"
	pkgerrors "github.com/lumina-photos/lumina-backend/pkg/errors"
	"github.com/lumina-photos/lumina-backend/pkg/logger"
)

// Auth requires a buyer bearer token and puts its subject on the request
// context. A verifier that cannot be built fails every request closed.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	verifier, verr := auth.NewVerifier(cfg)
	if verr != nil {
		logg.Error(context.Background(), "auth.verifier_unavailable", verr)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, verr, "auth not configured"))
				return
			}
			token, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			claims, err := verifier.Verify(token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithBuyerID(r.Context(), claims.BuyerID())
			ctx = logg.WithBuyerID(ctx, claims.BuyerID())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
