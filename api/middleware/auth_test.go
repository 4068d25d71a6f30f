package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/monidesk/ibos-backend/pkg/auth"
	"github.com/monidesk/ibos-backend/pkg/config"
	"github.com/monidesk/ibos-backend/pkg/enums"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingToken(t *testing.T) {
	handler := Auth(testJWTConfig(), stubRevocations{}, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	handler := Auth(testJWTConfig(), stubRevocations{}, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthSeedsPrincipal(t *testing.T) {
	cfg := testJWTConfig()
	businessID := uuid.New()
	token, _ := mintTestToken(t, cfg, enums.MemberRoleCashier, businessID)

	var (
		principal Principal
		found     bool
		claimsSet bool
	)
	handler := Auth(cfg, stubRevocations{}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, found = PrincipalFromContext(r.Context())
		claimsSet = ClaimsFromContext(r.Context()) != nil
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !found {
		t.Fatal("expected principal in context")
	}
	if principal.BusinessID != businessID {
		t.Fatalf("expected business %s got %s", businessID, principal.BusinessID)
	}
	if principal.Role != enums.MemberRoleCashier {
		t.Fatalf("expected role cashier got %s", principal.Role)
	}
	if principal.UserID == nil {
		t.Fatal("expected user id in principal")
	}
	if !claimsSet {
		t.Fatal("expected claims in context")
	}
}

func TestAuthRejectsRevokedToken(t *testing.T) {
	cfg := testJWTConfig()
	token, jti := mintTestToken(t, cfg, enums.MemberRoleOwner, uuid.New())

	handler := Auth(cfg, stubRevocations{revoked: map[string]bool{jti: true}}, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRevocationLookupFailure(t *testing.T) {
	cfg := testJWTConfig()
	token, _ := mintTestToken(t, cfg, enums.MemberRoleOwner, uuid.New())

	handler := Auth(cfg, stubRevocations{err: errors.New("redis down")}, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestRequireRolesRejectsOtherRoles(t *testing.T) {
	handler := RequireRoles(nil, enums.MemberRoleOwner, enums.MemberRoleManager)(okHandler())

	ctx := WithPrincipal(context.Background(), Principal{BusinessID: uuid.New(), Role: enums.MemberRoleCashier})
	req := httptest.NewRequest(http.MethodPost, "/", nil).WithContext(ctx)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}

	ctx = WithPrincipal(context.Background(), Principal{BusinessID: uuid.New(), Role: enums.MemberRoleManager})
	req = httptest.NewRequest(http.MethodPost, "/", nil).WithContext(ctx)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func mintTestToken(t *testing.T, cfg config.JWTConfig, role enums.MemberRole, businessID uuid.UUID) (string, string) {
	t.Helper()
	jti := uuid.NewString()
	payload := auth.AccessTokenPayload{
		UserID:     uuid.New(),
		BusinessID: businessID,
		Role:       role,
		JTI:        jti,
	}
	token, err := auth.MintAccessToken(cfg, time.Now(), payload)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token, jti
}

type stubRevocations struct {
	revoked map[string]bool
	err     error
}

func (s stubRevocations) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.revoked[tokenID], nil
}
