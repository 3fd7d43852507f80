// Package apikey mints and verifies the long-lived keys project owners
// use against the admin API. Keys are shown once at creation; only the
// SHA-256 digest and a short display prefix are stored.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// keyPrefix marks live API keys on the wire.
const keyPrefix = "ak_live_"

// keyBytes is the random key length in bytes.
const keyBytes = 32

// prefixLen is how much of the key is kept for display, enough to let
// an owner recognize a key in a listing without revealing it.
const prefixLen = len(keyPrefix) + 8

// Default admin rate ceilings applied to freshly minted keys.
const (
	DefaultRatePerMinute = 60
	DefaultRatePerDay    = 10000
)

var (
	// ErrNotFound indicates no key matches.
	ErrNotFound = errors.New("api key not found")

	// ErrRevoked indicates the key exists but has been revoked.
	ErrRevoked = errors.New("api key revoked")
)

// Key is one stored API key record.
type Key struct {
	ID     string
	UserID string
	Name   string

	// Prefix is the display fragment, e.g. "ak_live_a1b2c3d4".
	Prefix string

	// Hash is the hex SHA-256 digest of the full key.
	Hash string

	// Admin request ceilings for this key. Zero means unlimited.
	RatePerMinute int
	RatePerDay    int

	Revoked    bool
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// QuotaIdentity is the key this API key's usage is counted under.
func (k *Key) QuotaIdentity() string {
	return "apikey:" + k.ID
}

// Store persists API keys.
type Store interface {
	Create(ctx context.Context, k *Key) error
	GetByHash(ctx context.Context, hash string) (*Key, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	Revoke(ctx context.Context, id string) error
}

// Mint draws a fresh key and returns the full key alongside its stored
// form. The full key exists only in the return value.
func Mint(userID, name string, now time.Time) (full string, k *Key, err error) {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("reading entropy: %w", err)
	}
	full = keyPrefix + hex.EncodeToString(buf)
	k = &Key{
		ID:            uuid.NewString(),
		UserID:        userID,
		Name:          name,
		Prefix:        full[:prefixLen],
		Hash:          Hash(full),
		RatePerMinute: DefaultRatePerMinute,
		RatePerDay:    DefaultRatePerDay,
		CreatedAt:     now,
	}
	return full, k, nil
}

// Hash returns the hex SHA-256 digest of a full key.
func Hash(full string) string {
	sum := sha256.Sum256([]byte(full))
	return hex.EncodeToString(sum[:])
}

// WellFormed reports whether a presented key has the shape of a minted
// key, cheap rejection before any store lookup.
func WellFormed(full string) bool {
	return strings.HasPrefix(full, keyPrefix) && len(full) == len(keyPrefix)+keyBytes*2
}

// Verify resolves a presented key against the store. Malformed and
// unknown keys return ErrNotFound; revoked keys return ErrRevoked.
func Verify(ctx context.Context, store Store, full string, now time.Time) (*Key, error) {
	if !WellFormed(full) {
		return nil, ErrNotFound
	}
	k, err := store.GetByHash(ctx, Hash(full))
	if err != nil {
		return nil, err
	}
	if k == nil {
		return nil, ErrNotFound
	}
	if k.Revoked {
		return nil, ErrRevoked
	}
	// Best effort: a failed touch must not fail authentication.
	_ = store.TouchLastUsed(ctx, k.ID, now)
	return k, nil
}
