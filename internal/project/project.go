// Package project defines the tenant unit of the service. A project
// owns a document corpus, its access policy (domains, assistants) and
// its rate limits; every session and every stored chunk belongs to
// exactly one project.
package project

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates the project does not exist.
	ErrNotFound = errors.New("project not found")

	// ErrExists indicates a project with the same ID already exists.
	ErrExists = errors.New("project already exists")

	// ErrValidation indicates the project definition is invalid.
	ErrValidation = errors.New("invalid project")
)

// Limits are the per-project request ceilings enforced on sessions.
// A zero value for any window means that window is unlimited.
type Limits struct {
	RequestsPerMinute  int `json:"requests_per_minute" koanf:"requests_per_minute"`
	RequestsPerDay     int `json:"requests_per_day" koanf:"requests_per_day"`
	RequestsPerSession int `json:"requests_per_session" koanf:"requests_per_session"`
}

// Project is one tenant: a corpus, its policy and its limits.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	OwnerUserID string `json:"owner_user_id"`

	// Instructions is the system prompt prepended to every answer
	// generated for this project.
	Instructions string `json:"instructions"`

	// AllowedDomains restricts which origins may open sessions. Empty
	// means any origin. Entries are exact hostnames or wildcard
	// patterns of the form "*.example.com".
	AllowedDomains []string `json:"allowed_domains"`

	// AllowedAssistants restricts which assistant IDs sessions may
	// query. Empty means any assistant.
	AllowedAssistants []string `json:"allowed_assistants"`

	Limits Limits `json:"limits"`

	// SessionDuration is the fixed lifetime of sessions opened under
	// this project. Sessions are never renewed.
	SessionDuration time.Duration `json:"session_duration"`

	// MaxConcurrentSessions caps unexpired sessions per project.
	// Zero means uncapped.
	MaxConcurrentSessions int `json:"max_concurrent_sessions"`

	// Revoked permanently rate-limits every identity of this project.
	Revoked bool `json:"revoked"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the project definition.
func (p *Project) Validate() error {
	if p.ID == "" {
		return errors.New("project ID is required")
	}
	if p.Name == "" {
		return errors.New("project name is required")
	}
	if p.OwnerUserID == "" {
		return errors.New("owner user ID is required")
	}
	if p.Limits.RequestsPerMinute < 0 || p.Limits.RequestsPerDay < 0 || p.Limits.RequestsPerSession < 0 {
		return errors.New("request limits cannot be negative")
	}
	if p.SessionDuration < 0 {
		return errors.New("session duration cannot be negative")
	}
	for _, d := range p.AllowedDomains {
		if d == "" {
			return errors.New("allowed domains cannot contain empty entries")
		}
	}
	return nil
}

// MatchesDomain reports whether the origin domain may open sessions
// under this project. An empty allow list admits every domain.
// Wildcard entries of the form "*.example.com" match any subdomain
// and the bare apex.
func (p *Project) MatchesDomain(domain string) bool {
	if len(p.AllowedDomains) == 0 {
		return true
	}
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return false
	}
	for _, allowed := range p.AllowedDomains {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == domain {
			return true
		}
		if suffix, ok := strings.CutPrefix(allowed, "*."); ok {
			if domain == suffix || strings.HasSuffix(domain, "."+suffix) {
				return true
			}
		}
	}
	return false
}

// AllowsAssistant reports whether sessions may query the assistant.
// An empty allow list admits every assistant.
func (p *Project) AllowsAssistant(assistantID string) bool {
	if len(p.AllowedAssistants) == 0 {
		return true
	}
	for _, allowed := range p.AllowedAssistants {
		if allowed == assistantID {
			return true
		}
	}
	return false
}

// Store persists projects.
type Store interface {
	Create(ctx context.Context, p *Project) error
	Get(ctx context.Context, id string) (*Project, error)
	List(ctx context.Context, ownerUserID string) ([]*Project, error)
	Update(ctx context.Context, p *Project) error
	Delete(ctx context.Context, id string) error
}
