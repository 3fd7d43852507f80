package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/answerdhq/answerd/internal/apikey"
)

type apiKeyStore struct {
	db *sql.DB
}

var _ apikey.Store = (*apiKeyStore)(nil)

func (s *apiKeyStore) Create(ctx context.Context, k *apikey.Key) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, user_id, name, prefix, hash, rate_per_minute, rate_per_day, revoked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.UserID, k.Name, k.Prefix, k.Hash, k.RatePerMinute, k.RatePerDay, boolToInt(k.Revoked), k.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting api key: %w", err)
	}
	return nil
}

func (s *apiKeyStore) GetByHash(ctx context.Context, hash string) (*apikey.Key, error) {
	var (
		k        apikey.Key
		revoked  int
		lastUsed sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, prefix, hash, rate_per_minute, rate_per_day, revoked, created_at, last_used_at
		FROM api_keys WHERE hash = ?`, hash,
	).Scan(&k.ID, &k.UserID, &k.Name, &k.Prefix, &k.Hash, &k.RatePerMinute, &k.RatePerDay, &revoked, &k.CreatedAt, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up api key: %w", err)
	}
	k.Revoked = revoked != 0
	if lastUsed.Valid {
		k.LastUsedAt = lastUsed.Time
	}
	return &k, nil
}

func (s *apiKeyStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("touching api key: %w", err)
	}
	return nil
}

func (s *apiKeyStore) Revoke(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET revoked = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apikey.ErrNotFound
	}
	return nil
}
