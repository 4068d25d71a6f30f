package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/monidesk/ibos-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID     uuid.UUID
	BusinessID uuid.UUID
	Role       enums.MemberRole
	JTI        string
}

// AccessTokenClaims represents the typed JWT issued by the identity layer.
type AccessTokenClaims struct {
	UserID     uuid.UUID        `json:"user_id"`
	BusinessID uuid.UUID        `json:"business_id"`
	Role       enums.MemberRole `json:"role"`
	jwt.RegisteredClaims
}
