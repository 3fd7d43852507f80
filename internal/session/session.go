// Package session issues and validates the bearer tokens that widget
// embeds use to talk to the service. Sessions are bound to one project,
// carry a fixed expiry set at creation, and are never renewed: an
// expired session is indistinguishable from one that never existed.
package session

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
	"go.uber.org/zap"

	"github.com/answerdhq/answerd/internal/project"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

// tokenPrefix marks session tokens on the wire.
const tokenPrefix = "st_"

// tokenBytes is the random token length: 32 bytes = 256 bits of
// entropy from crypto/rand.
const tokenBytes = 32

var (
	// ErrDomainNotAllowed indicates the requesting origin is outside
	// the project's domain allow list.
	ErrDomainNotAllowed = errors.New("domain not allowed for this project")

	// ErrTooManySessions indicates the project's concurrent session cap
	// is reached.
	ErrTooManySessions = errors.New("concurrent session limit reached")

	// ErrAssistantNotAllowed indicates the session may not query the
	// requested assistant.
	ErrAssistantNotAllowed = errors.New("assistant not allowed for this project")
)

// Session is one issued token's server-side record. The raw token is
// never stored; only its SHA-256 digest is.
type Session struct {
	ID        string
	ProjectID string
	Origin    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time

	// UserIdentifier is an optional caller-supplied label. It is
	// opaque to the engine and never part of the quota identity.
	UserIdentifier string

	// LastUsedAt is bookkeeping only; it never extends the lifetime.
	LastUsedAt time.Time
}

// ClientInfo describes the requesting client at session creation.
type ClientInfo struct {
	Origin         string
	UserIdentifier string
}

// QuotaIdentity is the key a session's usage is counted under.
func QuotaIdentity(id string) string {
	return "session:" + id
}

// QuotaIdentity is the key this session's usage is counted under.
func (s *Session) QuotaIdentity() string {
	return QuotaIdentity(s.ID)
}

// expired reports whether the session is past its expiry at t.
// Lifetime is measured from creation; the boundary instant itself is
// already expired.
func (s *Session) expired(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// Grant is a validated session together with its project.
type Grant struct {
	Session *Session
	Project *project.Project
}

// Store persists session records. GetByTokenHash returns (nil, nil)
// for an unknown hash.
type Store interface {
	Create(ctx context.Context, s *Session) error
	GetByTokenHash(ctx context.Context, hash string) (*Session, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	CountActive(ctx context.Context, projectID string, now time.Time) (int, error)
	DeleteExpired(ctx context.Context, before time.Time) ([]string, error)
}

// Registry creates and validates sessions against project policy.
type Registry struct {
	sessions Store
	projects project.Store
	logger   *zap.Logger
}

// NewRegistry creates a Registry.
func NewRegistry(sessions Store, projects project.Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{sessions: sessions, projects: projects, logger: logger}
}

// mintToken draws a fresh bearer token from crypto/rand.
func mintToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading entropy: %w", err)
	}
	return tokenPrefix + hex.EncodeToString(buf), nil
}

// HashToken returns the hex SHA-256 digest stored in place of a token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Create opens a session for the client's origin domain under the
// project and returns the record plus the raw token. The token is
// returned exactly once; it cannot be recovered afterwards.
func (r *Registry) Create(ctx context.Context, projectID string, client ClientInfo) (*Session, string, error) {
	p, err := r.projects.Get(ctx, projectID)
	if err != nil {
		return nil, "", err
	}
	if p.Revoked {
		return nil, "", fmt.Errorf("%w: project revoked", project.ErrNotFound)
	}
	if !p.MatchesDomain(client.Origin) {
		return nil, "", ErrDomainNotAllowed
	}

	now := timeNow()
	if p.MaxConcurrentSessions > 0 {
		active, err := r.sessions.CountActive(ctx, p.ID, now)
		if err != nil {
			return nil, "", fmt.Errorf("counting active sessions: %w", err)
		}
		if active >= p.MaxConcurrentSessions {
			return nil, "", ErrTooManySessions
		}
	}

	token, err := mintToken()
	if err != nil {
		return nil, "", err
	}

	s := &Session{
		ID:             uuid.NewString(),
		ProjectID:      p.ID,
		Origin:         client.Origin,
		TokenHash:      HashToken(token),
		CreatedAt:      now,
		ExpiresAt:      now.Add(p.SessionDuration),
		UserIdentifier: client.UserIdentifier,
	}
	if err := r.sessions.Create(ctx, s); err != nil {
		return nil, "", fmt.Errorf("persisting session: %w", err)
	}

	r.logger.Info("session created",
		zap.String("session_id", s.ID),
		zap.String("project_id", p.ID),
		zap.String("origin", client.Origin),
		zap.Time("expires_at", s.ExpiresAt),
	)
	return s, token, nil
}

// Validate resolves a raw token to its grant. Unknown, expired and
// orphaned tokens all yield (nil, nil): the caller cannot distinguish
// why a token is invalid, only that it is. A non-nil error means the
// lookup itself failed and the caller should not treat the token as
// invalid.
func (r *Registry) Validate(ctx context.Context, token string) (*Grant, error) {
	if !strings.HasPrefix(token, tokenPrefix) || len(token) != len(tokenPrefix)+tokenBytes*2 {
		return nil, nil
	}

	s, err := r.sessions.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		return nil, fmt.Errorf("looking up session: %w", err)
	}
	if s == nil {
		return nil, nil
	}
	if s.expired(timeNow()) {
		return nil, nil
	}

	p, err := r.projects.Get(ctx, s.ProjectID)
	if errors.Is(err, project.ErrNotFound) {
		// Orphaned session: its project was deleted underneath it.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	if p.Revoked {
		return nil, nil
	}

	// Best effort: usage bookkeeping never fails a valid token.
	if err := r.sessions.TouchLastUsed(ctx, s.ID, timeNow()); err != nil {
		r.logger.Warn("updating session last_used_at failed",
			zap.String("session_id", s.ID),
			zap.Error(err),
		)
	}

	return &Grant{Session: s, Project: p}, nil
}

// Authorize checks that the grant may query the assistant.
func (r *Registry) Authorize(g *Grant, assistantID string) error {
	if !g.Project.AllowsAssistant(assistantID) {
		return ErrAssistantNotAllowed
	}
	return nil
}

// PruneExpired deletes expired session rows and returns their IDs so
// the caller can discard the pruned sessions' quota counters too.
// Validation never depends on pruning; this only reclaims storage.
func (r *Registry) PruneExpired(ctx context.Context) ([]string, error) {
	ids, err := r.sessions.DeleteExpired(ctx, timeNow())
	if err != nil {
		return nil, fmt.Errorf("pruning sessions: %w", err)
	}
	if len(ids) > 0 {
		r.logger.Debug("pruned expired sessions", zap.Int("count", len(ids)))
	}
	return ids, nil
}
