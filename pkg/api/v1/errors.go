// Package v1 defines the public API surface of answerd: stable error
// codes and the request/response types exposed to untrusted clients.
package v1

import (
	"errors"
	"fmt"
	"strings"
)

// Stable error taxonomy. Every failure a client can observe maps to
// exactly one of these; internal detail is logged, never returned.
var (
	// ErrAuthenticationFailed indicates a bad, expired, or orphaned
	// session token or API key. Fail closed: no partial information.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrAuthorizationDenied indicates the origin domain or assistant is
	// not permitted for the project.
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrProjectNotFound indicates the project is missing or inactive.
	ErrProjectNotFound = errors.New("project not found or inactive")

	// ErrDomainNotAllowed indicates the request origin does not match the
	// project's allowed-domain patterns.
	ErrDomainNotAllowed = errors.New("domain not allowed for this project")

	// ErrRetrievalUnavailable indicates the embedding or generation
	// backend is down or timed out.
	ErrRetrievalUnavailable = errors.New("retrieval backend unavailable")

	// ErrRetrievalFailed is the generic failure surfaced for errors
	// downstream of an accepted request.
	ErrRetrievalFailed = errors.New("message processing failed")

	// ErrStorage indicates a persistence backend failure. Not retried.
	ErrStorage = errors.New("storage backend failure")

	// ErrValidation indicates malformed input, e.g. an empty message
	// after sanitization.
	ErrValidation = errors.New("invalid request")
)

// WindowUsage reports the current count against the limit for one
// quota window.
type WindowUsage struct {
	Window  string `json:"window"` // "minute", "day", or "session"
	Current int    `json:"current"`
	Limit   int    `json:"limit"`
}

// QuotaExceededError is returned when any quota window is at or over
// its limit. It carries every window's usage so clients can back off.
type QuotaExceededError struct {
	Windows []WindowUsage
}

// Error implements the error interface.
func (e *QuotaExceededError) Error() string {
	parts := make([]string, len(e.Windows))
	for i, w := range e.Windows {
		parts[i] = fmt.Sprintf("%s %d/%d", w.Window, w.Current, w.Limit)
	}
	return "rate limit exceeded: " + strings.Join(parts, ", ")
}

// Usage returns the usage for a named window, or nil if absent.
func (e *QuotaExceededError) Usage(window string) *WindowUsage {
	for i := range e.Windows {
		if e.Windows[i].Window == window {
			return &e.Windows[i]
		}
	}
	return nil
}
