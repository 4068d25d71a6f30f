package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redislib "github.com/redis/go-redis/v9"
)

const revokedMarker = "1"

type revocationStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

type revocationKeyer interface {
	RevokedTokenKey(tokenID string) string
}

// Checker exposes the read-only surface needed by middleware.
type Checker interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Manager tracks revoked access tokens until they would have expired anyway.
type Manager struct {
	store revocationStore
	keyer revocationKeyer
	now   func() time.Time
}

// NewManager constructs a revocation manager. The Redis client satisfies both
// the store and the keyer.
func NewManager(store revocationStore, keyer revocationKeyer) (*Manager, error) {
	if store == nil || keyer == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &Manager{store: store, keyer: keyer, now: time.Now}, nil
}

// Revoke marks the token id as revoked until expiresAt. Tokens that already
// expired need no marker.
func (m *Manager) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if strings.TrimSpace(tokenID) == "" {
		return fmt.Errorf("token id is required")
	}
	ttl := expiresAt.Sub(m.now())
	if ttl <= 0 {
		return nil
	}
	return m.store.Set(ctx, m.keyer.RevokedTokenKey(tokenID), revokedMarker, ttl)
}

// IsRevoked reports whether the token id was revoked before its expiry.
func (m *Manager) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if strings.TrimSpace(tokenID) == "" {
		return false, nil
	}
	if _, err := m.store.Get(ctx, m.keyer.RevokedTokenKey(tokenID)); err != nil {
		if errors.Is(err, redislib.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
