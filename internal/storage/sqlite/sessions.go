package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/answerdhq/answerd/internal/session"
)

type sessionStore struct {
	db *sql.DB
}

var _ session.Store = (*sessionStore)(nil)

func (s *sessionStore) Create(ctx context.Context, sess *session.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, project_id, origin, token_hash, created_at, expires_at, user_identifier)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ProjectID, sess.Origin, sess.TokenHash, sess.CreatedAt, sess.ExpiresAt, sess.UserIdentifier,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

func (s *sessionStore) GetByTokenHash(ctx context.Context, hash string) (*session.Session, error) {
	var (
		sess     session.Session
		lastUsed sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, origin, token_hash, created_at, expires_at, user_identifier, last_used_at
		FROM sessions WHERE token_hash = ?`, hash,
	).Scan(&sess.ID, &sess.ProjectID, &sess.Origin, &sess.TokenHash, &sess.CreatedAt, &sess.ExpiresAt, &sess.UserIdentifier, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up session: %w", err)
	}
	if lastUsed.Valid {
		sess.LastUsedAt = lastUsed.Time
	}
	return &sess, nil
}

func (s *sessionStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_used_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("updating session last_used_at: %w", err)
	}
	return nil
}

func (s *sessionStore) CountActive(ctx context.Context, projectID string, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions WHERE project_id = ? AND expires_at > ?`,
		projectID, now,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting active sessions: %w", err)
	}
	return count, nil
}

func (s *sessionStore) DeleteExpired(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= ? RETURNING id`, before,
	)
	if err != nil {
		return nil, fmt.Errorf("deleting expired sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("reading deleted session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("deleting expired sessions: %w", err)
	}
	return ids, nil
}
