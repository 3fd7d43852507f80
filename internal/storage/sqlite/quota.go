package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/answerdhq/answerd/internal/quota"
)

type quotaStore struct {
	db *sql.DB
}

var _ quota.CounterStore = (*quotaStore)(nil)

// Increment bumps all three counters in one UPSERT. SQLite evaluates
// the SET expressions against the pre-update row, so the CASE guards
// see the stored window starts: a matching window increments, a stale
// one restarts at 1. The single statement keeps the three counters
// atomic without an explicit transaction.
func (s *quotaStore) Increment(ctx context.Context, identity string, minuteStart, dayStart time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quota_counters (identity, minute_start, minute_count, day_start, day_count, session_count)
		VALUES (?, ?, 1, ?, 1, 1)
		ON CONFLICT(identity) DO UPDATE SET
			minute_count  = CASE WHEN minute_start = excluded.minute_start THEN minute_count + 1 ELSE 1 END,
			minute_start  = excluded.minute_start,
			day_count     = CASE WHEN day_start = excluded.day_start THEN day_count + 1 ELSE 1 END,
			day_start     = excluded.day_start,
			session_count = session_count + 1`,
		identity, minuteStart.Unix(), dayStart.Unix(),
	)
	if err != nil {
		return fmt.Errorf("incrementing quota counters: %w", err)
	}
	return nil
}

// IncrementIfAllowed is the same UPSERT with the limit comparison
// folded into the DO UPDATE's WHERE clause, so the compare and the
// increment are one statement under SQLite's writer lock. Zero rows
// affected means an existing row was at a limit (or revoked) and
// nothing was charged. A fresh identity has no history and is always
// admitted on its first request.
func (s *quotaStore) IncrementIfAllowed(ctx context.Context, identity string, minuteStart, dayStart time.Time, limits quota.Limits) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO quota_counters (identity, minute_start, minute_count, day_start, day_count, session_count)
		VALUES (?1, ?2, 1, ?3, 1, 1)
		ON CONFLICT(identity) DO UPDATE SET
			minute_count  = CASE WHEN minute_start = excluded.minute_start THEN minute_count + 1 ELSE 1 END,
			minute_start  = excluded.minute_start,
			day_count     = CASE WHEN day_start = excluded.day_start THEN day_count + 1 ELSE 1 END,
			day_start     = excluded.day_start,
			session_count = session_count + 1
		WHERE revoked = 0
		  AND (?4 <= 0 OR CASE WHEN minute_start = excluded.minute_start THEN minute_count ELSE 0 END < ?4)
		  AND (?5 <= 0 OR CASE WHEN day_start = excluded.day_start THEN day_count ELSE 0 END < ?5)
		  AND (?6 <= 0 OR session_count < ?6)`,
		identity, minuteStart.Unix(), dayStart.Unix(),
		limits.PerMinute, limits.PerDay, limits.PerSession,
	)
	if err != nil {
		return false, fmt.Errorf("admitting against quota counters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("admitting against quota counters: %w", err)
	}
	return n > 0, nil
}

func (s *quotaStore) Counts(ctx context.Context, identity string, minuteStart, dayStart time.Time) (quota.Counts, error) {
	var (
		c           quota.Counts
		storedMin   int64
		storedDay   int64
		minuteCount int
		dayCount    int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT minute_start, minute_count, day_start, day_count, session_count
		FROM quota_counters WHERE identity = ?`, identity,
	).Scan(&storedMin, &minuteCount, &storedDay, &dayCount, &c.Session)
	if errors.Is(err, sql.ErrNoRows) {
		return quota.Counts{}, nil
	}
	if err != nil {
		return quota.Counts{}, fmt.Errorf("reading quota counters: %w", err)
	}

	if storedMin == minuteStart.Unix() {
		c.Minute = minuteCount
	}
	if storedDay == dayStart.Unix() {
		c.Day = dayCount
	}
	return c, nil
}

func (s *quotaStore) Delete(ctx context.Context, identity string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM quota_counters WHERE identity = ?`, identity,
	)
	if err != nil {
		return fmt.Errorf("deleting quota counters: %w", err)
	}
	return nil
}

func (s *quotaStore) Revoke(ctx context.Context, identity string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quota_counters (identity, revoked) VALUES (?, 1)
		ON CONFLICT(identity) DO UPDATE SET revoked = 1`,
		identity,
	)
	if err != nil {
		return fmt.Errorf("revoking identity: %w", err)
	}
	return nil
}

func (s *quotaStore) IsRevoked(ctx context.Context, identity string) (bool, error) {
	var revoked int
	err := s.db.QueryRowContext(ctx,
		`SELECT revoked FROM quota_counters WHERE identity = ?`, identity,
	).Scan(&revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading revocation: %w", err)
	}
	return revoked != 0, nil
}
