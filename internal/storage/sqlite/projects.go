package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/answerdhq/answerd/internal/project"
)

type projectStore struct {
	db *sql.DB
}

var _ project.Store = (*projectStore)(nil)

func encodeStrings(ss []string) (string, error) {
	if ss == nil {
		ss = []string{}
	}
	data, err := json.Marshal(ss)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeStrings(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(s), &ss); err != nil {
		return nil, err
	}
	if len(ss) == 0 {
		return nil, nil
	}
	return ss, nil
}

func (s *projectStore) Create(ctx context.Context, p *project.Project) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", project.ErrValidation, err)
	}

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	domains, err := encodeStrings(p.AllowedDomains)
	if err != nil {
		return fmt.Errorf("encoding allowed domains: %w", err)
	}
	assistants, err := encodeStrings(p.AllowedAssistants)
	if err != nil {
		return fmt.Errorf("encoding allowed assistants: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (
			id, name, owner_user_id, instructions,
			allowed_domains, allowed_assistants,
			requests_per_minute, requests_per_day, requests_per_session,
			session_duration_seconds, max_concurrent_sessions,
			revoked, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.OwnerUserID, p.Instructions,
		domains, assistants,
		p.Limits.RequestsPerMinute, p.Limits.RequestsPerDay, p.Limits.RequestsPerSession,
		int64(p.SessionDuration/time.Second), p.MaxConcurrentSessions,
		boolToInt(p.Revoked), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return project.ErrExists
		}
		return fmt.Errorf("inserting project: %w", err)
	}
	return nil
}

func (s *projectStore) scan(row interface{ Scan(...any) error }) (*project.Project, error) {
	var (
		p               project.Project
		domains         string
		assistants      string
		durationSeconds int64
		revoked         int
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.OwnerUserID, &p.Instructions,
		&domains, &assistants,
		&p.Limits.RequestsPerMinute, &p.Limits.RequestsPerDay, &p.Limits.RequestsPerSession,
		&durationSeconds, &p.MaxConcurrentSessions,
		&revoked, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, project.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning project: %w", err)
	}

	if p.AllowedDomains, err = decodeStrings(domains); err != nil {
		return nil, fmt.Errorf("decoding allowed domains: %w", err)
	}
	if p.AllowedAssistants, err = decodeStrings(assistants); err != nil {
		return nil, fmt.Errorf("decoding allowed assistants: %w", err)
	}
	p.SessionDuration = time.Duration(durationSeconds) * time.Second
	p.Revoked = revoked != 0
	return &p, nil
}

const projectColumns = `
	id, name, owner_user_id, instructions,
	allowed_domains, allowed_assistants,
	requests_per_minute, requests_per_day, requests_per_session,
	session_duration_seconds, max_concurrent_sessions,
	revoked, created_at, updated_at`

func (s *projectStore) Get(ctx context.Context, id string) (*project.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	return s.scan(row)
}

func (s *projectStore) List(ctx context.Context, ownerUserID string) ([]*project.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE owner_user_id = ? ORDER BY created_at`, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var projects []*project.Project
	for rows.Next() {
		p, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *projectStore) Update(ctx context.Context, p *project.Project) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", project.ErrValidation, err)
	}
	p.UpdatedAt = time.Now().UTC()

	domains, err := encodeStrings(p.AllowedDomains)
	if err != nil {
		return fmt.Errorf("encoding allowed domains: %w", err)
	}
	assistants, err := encodeStrings(p.AllowedAssistants)
	if err != nil {
		return fmt.Errorf("encoding allowed assistants: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET
			name = ?, instructions = ?,
			allowed_domains = ?, allowed_assistants = ?,
			requests_per_minute = ?, requests_per_day = ?, requests_per_session = ?,
			session_duration_seconds = ?, max_concurrent_sessions = ?,
			revoked = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.Instructions,
		domains, assistants,
		p.Limits.RequestsPerMinute, p.Limits.RequestsPerDay, p.Limits.RequestsPerSession,
		int64(p.SessionDuration/time.Second), p.MaxConcurrentSessions,
		boolToInt(p.Revoked), p.UpdatedAt,
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return project.ErrNotFound
	}
	return nil
}

func (s *projectStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return project.ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
