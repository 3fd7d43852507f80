package http

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	apiv1 "github.com/answerdhq/answerd/pkg/api/v1"

	"github.com/answerdhq/answerd/internal/session"
)

// originDomain extracts the requesting hostname from the Origin
// header, falling back to Referer. Returns "" when neither is usable.
func originDomain(r *http.Request) string {
	raw := r.Header.Get("Origin")
	if raw == "" {
		raw = r.Header.Get("Referer")
	}
	if raw == "" {
		return ""
	}
	if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
		return strings.ToLower(u.Hostname())
	}
	host := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}

// handleCreateSession mints a session token for a widget client.
func (s *Server) handleCreateSession(c echo.Context) error {
	var req apiv1.CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid session request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ProjectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project_id field is required")
	}

	client := session.ClientInfo{
		Origin:         originDomain(c.Request()),
		UserIdentifier: req.UserIdentifier,
	}
	sess, token, err := s.sessions.Create(c.Request().Context(), req.ProjectID, client)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, apiv1.CreateSessionResponse{
		SessionToken: token,
		ExpiresAt:    sess.ExpiresAt.UTC().Format(time.RFC3339),
		ProjectID:    sess.ProjectID,
	})
}

// handleMessage answers one end-user query.
func (s *Server) handleMessage(c echo.Context) error {
	var req apiv1.MessageRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid message request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := s.orchestrator.HandleMessage(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// handleProjectInfo returns the safe public view of a project. The
// requesting origin must be allowed by the project's domain policy.
func (s *Server) handleProjectInfo(c echo.Context) error {
	p, err := s.projects.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	if p.Revoked {
		return writeError(c, apiv1.ErrProjectNotFound)
	}
	if !p.MatchesDomain(originDomain(c.Request())) {
		return writeError(c, apiv1.ErrDomainNotAllowed)
	}

	return c.JSON(http.StatusOK, apiv1.ProjectInfoResponse{
		ProjectID:         p.ID,
		Name:              p.Name,
		AllowedAssistants: p.AllowedAssistants,
		SessionDuration:   p.SessionDuration.String(),
		RateLimits: apiv1.RateLimits{
			RequestsPerMinute:  p.Limits.RequestsPerMinute,
			RequestsPerDay:     p.Limits.RequestsPerDay,
			RequestsPerSession: p.Limits.RequestsPerSession,
		},
	})
}
