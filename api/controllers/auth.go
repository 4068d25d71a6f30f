package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/monidesk/ibos-backend/api/middleware"
	"github.com/monidesk/ibos-backend/api/responses"
	pkgerrors "github.com/monidesk/ibos-backend/pkg/errors"
	"github.com/monidesk/ibos-backend/pkg/logger"
)

type tokenRevoker interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
}

// AuthRevoke revokes the bearer token used on this request. Later requests
// with the same token are rejected by the Auth middleware until it expires.
func AuthRevoke(revoker tokenRevoker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if revoker == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "session manager unavailable"))
			return
		}

		claims := middleware.ClaimsFromContext(r.Context())
		if claims == nil || claims.ID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "token cannot be revoked"))
			return
		}

		expiresAt := time.Now()
		if claims.ExpiresAt != nil {
			expiresAt = claims.ExpiresAt.Time
		}
		if err := revoker.Revoke(r.Context(), claims.ID, expiresAt); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke token"))
			return
		}

		if logg != nil {
			logg.Info(r.Context(), "auth.token_revoked")
		}
		responses.WriteSuccess(w, map[string]any{"revoked": true})
	}
}
