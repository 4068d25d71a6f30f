package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/monidesk/ibos-backend/pkg/enums"
)

type contextKey string

const (
	ctxUserID     contextKey = "user_id"
	ctxRole       contextKey = "actor_role"
	ctxBusinessID contextKey = "business_id"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

func BusinessIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxBusinessID).(string); ok {
		return v
	}
	return ""
}

// Principal is the resolved caller every core operation runs as.
type Principal struct {
	UserID     *uuid.UUID
	BusinessID uuid.UUID
	Role       enums.MemberRole
}

// PrincipalFromContext returns the authenticated caller. ok is false when the
// request did not pass through Auth or carried a malformed business id.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	businessID, err := uuid.Parse(BusinessIDFromContext(ctx))
	if err != nil {
		return Principal{}, false
	}
	p := Principal{BusinessID: businessID, Role: enums.MemberRole(RoleFromContext(ctx))}
	if userID, err := uuid.Parse(UserIDFromContext(ctx)); err == nil {
		p.UserID = &userID
	}
	return p, true
}

// WithPrincipal seeds the context the same way Auth does. Used by tests and
// internal callers that already resolved the caller.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if p.UserID != nil {
		ctx = context.WithValue(ctx, ctxUserID, p.UserID.String())
	}
	ctx = context.WithValue(ctx, ctxRole, string(p.Role))
	return context.WithValue(ctx, ctxBusinessID, p.BusinessID.String())
}
