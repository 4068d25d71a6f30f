package middleware

import (
	"net/http"

	"github.com/monidesk/ibos-backend/api/responses"
	"github.com/monidesk/ibos-backend/pkg/enums"
	pkgerrors "github.com/monidesk/ibos-backend/pkg/errors"
	"github.com/monidesk/ibos-backend/pkg/logger"
)

// RequireRoles rejects callers whose business role is not in allowed. A role
// claim outside the known set is treated the same as a missing permission.
func RequireRoles(logg *logger.Logger, allowed ...enums.MemberRole) func(http.Handler) http.Handler {
	permitted := make(map[enums.MemberRole]struct{}, len(allowed))
	for _, role := range allowed {
		permitted[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, err := enums.ParseMemberRole(RoleFromContext(r.Context()))
			if err == nil {
				if _, ok := permitted[role]; ok {
					next.ServeHTTP(w, r)
					return
				}
			}
			if logg != nil {
				ctx := logg.WithFields(r.Context(), map[string]any{"role": RoleFromContext(r.Context()), "path": r.URL.Path})
				logg.Debug(ctx, "role.denied")
			}
			msg := "role not permitted"
			if err != nil {
				msg = "unknown role"
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, msg))
		})
	}
}
