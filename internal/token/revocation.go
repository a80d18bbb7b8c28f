package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"backoffice-serverless/internal/cache"
)

const revokedKeyPrefix = "revoked:"

// RevocationStore blacklists raw tokens until they would have expired anyway.
type RevocationStore struct {
	store cache.Store
	now   func() time.Time
}

func NewRevocationStore(store cache.Store) *RevocationStore {
	return &RevocationStore{store: store, now: time.Now}
}

// Hash returns the hex SHA-256 of a raw token. The raw value is never stored.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (r *RevocationStore) Revoke(ctx context.Context, raw string, expiresAt time.Time) error {
	if raw == "" {
		return nil
	}
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if err := r.store.Set(ctx, revokedKeyPrefix+Hash(raw), "1", ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (r *RevocationStore) IsRevoked(ctx context.Context, raw string) (bool, error) {
	ok, err := r.store.Exists(ctx, revokedKeyPrefix+Hash(raw))
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return ok, nil
}
