package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	apiv1 "github.com/answerdhq/answerd/pkg/api/v1"

	"github.com/answerdhq/answerd/internal/apikey"
	"github.com/answerdhq/answerd/internal/orchestrator"
	"github.com/answerdhq/answerd/internal/project"
	"github.com/answerdhq/answerd/internal/quota"
	"github.com/answerdhq/answerd/internal/vectorstore"
)

// apiKeyContextKey is where requireAPIKey stashes the verified key.
const apiKeyContextKey = "answerd.apikey"

// requireAPIKey authenticates admin requests with a bearer API key.
func (s *Server) requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := c.Request().Header.Get(echo.HeaderAuthorization)
		raw = strings.TrimPrefix(raw, "Bearer ")
		if raw == "" {
			raw = c.Request().Header.Get("X-API-Key")
		}

		k, err := apikey.Verify(c.Request().Context(), s.keys, raw, timeNow())
		if err != nil {
			if errors.Is(err, apikey.ErrNotFound) || errors.Is(err, apikey.ErrRevoked) {
				return writeError(c, apiv1.ErrAuthenticationFailed)
			}
			s.logger.Error("api key verification failed", zap.Error(err))
			return writeError(c, apiv1.ErrStorage)
		}

		// Key identities are rate limited through the same ledger as
		// sessions; every admin call is charged on admission.
		status, err := s.ledger.Admit(c.Request().Context(), k.QuotaIdentity(), quota.Limits{
			PerMinute: k.RatePerMinute,
			PerDay:    k.RatePerDay,
		})
		if err != nil {
			s.logger.Error("api key quota check failed", zap.Error(err))
			return writeError(c, apiv1.ErrStorage)
		}
		if !status.Allowed {
			return writeError(c, orchestrator.QuotaError(status))
		}

		c.Set(apiKeyContextKey, k)
		return next(c)
	}
}

// callerKey returns the verified key for the current request.
func callerKey(c echo.Context) *apikey.Key {
	k, _ := c.Get(apiKeyContextKey).(*apikey.Key)
	return k
}

// ownedProject loads a project and checks it belongs to the caller.
// Foreign projects surface as not found so key holders cannot
// enumerate other tenants' IDs.
func (s *Server) ownedProject(c echo.Context, id string) (*project.Project, error) {
	p, err := s.projects.Get(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if k := callerKey(c); k != nil && p.OwnerUserID != k.UserID {
		return nil, project.ErrNotFound
	}
	return p, nil
}

func (s *Server) handleCreateProject(c echo.Context) error {
	var p project.Project
	if err := c.Bind(&p); err != nil {
		s.logger.Warn("invalid project request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p.OwnerUserID = callerKey(c).UserID
	if err := p.Validate(); err != nil {
		return writeError(c, fmt.Errorf("%w: %v", project.ErrValidation, err))
	}
	if err := s.projects.Create(c.Request().Context(), &p); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, &p)
}

func (s *Server) handleListProjects(c echo.Context) error {
	list, err := s.projects.List(c.Request().Context(), callerKey(c).UserID)
	if err != nil {
		return writeError(c, err)
	}
	if list == nil {
		list = []*project.Project{}
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleGetProject(c echo.Context) error {
	p, err := s.ownedProject(c, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleUpdateProject(c echo.Context) error {
	existing, err := s.ownedProject(c, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}

	var p project.Project
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p.ID = existing.ID
	p.OwnerUserID = existing.OwnerUserID
	p.CreatedAt = existing.CreatedAt
	if err := p.Validate(); err != nil {
		return writeError(c, fmt.Errorf("%w: %v", project.ErrValidation, err))
	}
	if err := s.projects.Update(c.Request().Context(), &p); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, &p)
}

func (s *Server) handleDeleteProject(c echo.Context) error {
	if _, err := s.ownedProject(c, c.Param("id")); err != nil {
		return writeError(c, err)
	}
	if err := s.projects.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleUpsertDocument(c echo.Context) error {
	var req UpsertDocumentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Chunks) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "chunks field is required")
	}

	chunks := make([]vectorstore.Chunk, len(req.Chunks))
	for i, payload := range req.Chunks {
		if strings.TrimSpace(payload.Text) == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "chunk text cannot be empty")
		}
		chunks[i] = vectorstore.Chunk{
			Index:    i,
			Text:     payload.Text,
			Metadata: vectorstore.MetadataFromStrings(payload.Metadata),
		}
	}

	scope := c.Param("assistant_id")
	documentID := c.Param("document_id")
	if err := s.vectors.Upsert(c.Request().Context(), scope, documentID, chunks); err != nil {
		s.logger.Error("document upsert failed",
			zap.String("assistant_id", scope),
			zap.String("document_id", documentID),
			zap.Error(err),
		)
		return writeError(c, apiv1.ErrRetrievalUnavailable)
	}

	return c.JSON(http.StatusOK, UpsertDocumentResponse{
		DocumentID: documentID,
		Chunks:     len(chunks),
	})
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	scope := c.Param("assistant_id")
	documentID := c.Param("document_id")
	deleted, err := s.vectors.DeleteByDocument(c.Request().Context(), scope, documentID)
	if err != nil {
		return writeError(c, apiv1.ErrRetrievalUnavailable)
	}
	return c.JSON(http.StatusOK, DeleteDocumentResponse{
		DocumentID: documentID,
		Deleted:    deleted,
	})
}

func (s *Server) handleAssistantStats(c echo.Context) error {
	scope := c.Param("assistant_id")
	stats, err := s.vectors.Stats(c.Request().Context(), scope)
	if err != nil {
		return writeError(c, apiv1.ErrRetrievalUnavailable)
	}
	return c.JSON(http.StatusOK, StatsResponse{
		AssistantID:   scope,
		DocumentCount: stats.DocumentCount,
		ChunkCount:    stats.ChunkCount,
		TotalBytes:    stats.TotalBytes,
	})
}

func (s *Server) handleConversationMessages(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}

	conversationID := c.Param("id")
	messages, err := s.conversations.Messages(c.Request().Context(), conversationID, limit)
	if err != nil {
		return writeError(c, err)
	}

	out := make([]ConversationMessage, len(messages))
	for i, m := range messages {
		out[i] = ConversationMessage{
			ID:          m.ID,
			Role:        m.Role,
			Content:     m.Content,
			ContextUsed: m.ContextUsed,
			CreatedAt:   m.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	return c.JSON(http.StatusOK, ConversationMessagesResponse{
		ConversationID: conversationID,
		Messages:       out,
	})
}
