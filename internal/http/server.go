// Package http provides the HTTP API for answerd.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/answerdhq/answerd/internal/apikey"
	"github.com/answerdhq/answerd/internal/config"
	"github.com/answerdhq/answerd/internal/conversation"
	"github.com/answerdhq/answerd/internal/orchestrator"
	"github.com/answerdhq/answerd/internal/project"
	"github.com/answerdhq/answerd/internal/quota"
	"github.com/answerdhq/answerd/internal/session"
	"github.com/answerdhq/answerd/internal/vectorstore"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

// Server provides the public and admin HTTP endpoints.
type Server struct {
	echo          *echo.Echo
	sessions      *session.Registry
	orchestrator  *orchestrator.Orchestrator
	ledger        *quota.Ledger
	projects      project.Store
	keys          apikey.Store
	vectors       vectorstore.Store
	conversations conversation.Log
	logger        *zap.Logger
	config        config.ServerConfig
}

// NewServer creates a new HTTP server.
func NewServer(
	sessions *session.Registry,
	orch *orchestrator.Orchestrator,
	ledger *quota.Ledger,
	projects project.Store,
	keys apikey.Store,
	vectors vectorstore.Store,
	conversations conversation.Log,
	logger *zap.Logger,
	cfg config.ServerConfig,
) (*Server, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session registry cannot be nil")
	}
	if orch == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if ledger == nil {
		return nil, fmt.Errorf("quota ledger cannot be nil")
	}
	if projects == nil {
		return nil, fmt.Errorf("project store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(DefaultMetrics().Middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:          e,
		sessions:      sessions,
		orchestrator:  orch,
		ledger:        ledger,
		projects:      projects,
		keys:          keys,
		vectors:       vectors,
		conversations: conversations,
		logger:        logger,
		config:        cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check and metrics
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Public routes reachable by untrusted widget clients.
	public := s.echo.Group("/api/public")
	public.POST("/sessions/create", s.handleCreateSession)
	public.POST("/assistants/message", s.handleMessage)
	public.GET("/projects/:id/info", s.handleProjectInfo)

	// Admin routes require an API key.
	admin := s.echo.Group("/api/admin", s.requireAPIKey)
	admin.POST("/projects", s.handleCreateProject)
	admin.GET("/projects", s.handleListProjects)
	admin.GET("/projects/:id", s.handleGetProject)
	admin.PUT("/projects/:id", s.handleUpdateProject)
	admin.DELETE("/projects/:id", s.handleDeleteProject)
	admin.PUT("/assistants/:assistant_id/documents/:document_id", s.handleUpsertDocument)
	admin.DELETE("/assistants/:assistant_id/documents/:document_id", s.handleDeleteDocument)
	admin.GET("/assistants/:assistant_id/stats", s.handleAssistantStats)
	admin.GET("/conversations/:id/messages", s.handleConversationMessages)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
