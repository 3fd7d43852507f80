package main

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/answerdhq/answerd/internal/http"
	"github.com/answerdhq/answerd/internal/llm"
	"github.com/answerdhq/answerd/internal/orchestrator"
	"github.com/answerdhq/answerd/internal/quota"
	"github.com/answerdhq/answerd/internal/retrieval"
	"github.com/answerdhq/answerd/internal/session"
)

// pruneInterval is how often expired sessions are swept from storage.
const pruneInterval = 10 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the answerd HTTP server",
	Long: `Start the answerd HTTP server.

Serves the public widget API, the admin API and the metrics endpoint
until interrupted. Shutdown is graceful: in-flight requests finish
within the configured shutdown timeout.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	generator, err := llm.NewGenerator(a.cfg.Generator)
	if err != nil {
		return fmt.Errorf("initializing generator: %w", err)
	}
	defer generator.Close()

	registry := session.NewRegistry(a.storage.Sessions(), a.storage.Projects(), a.logger)
	ledger := quota.NewLedger(a.storage.QuotaCounters(), a.logger)
	orch := orchestrator.New(
		registry,
		ledger,
		retrieval.NewEngine(a.vectors, a.cfg.Retrieval, a.logger),
		generator,
		a.storage.Conversations(),
		a.logger,
	)

	server, err := http.NewServer(
		registry,
		orch,
		ledger,
		a.storage.Projects(),
		a.storage.APIKeys(),
		a.vectors,
		a.storage.Conversations(),
		a.logger,
		a.cfg.Server,
	)
	if err != nil {
		return fmt.Errorf("initializing http server: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		a.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	go pruneSessions(ctx, registry, ledger, a.logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	a.logger.Info("server shutdown complete")
	return nil
}

// pruneSessions periodically deletes expired session records along
// with their quota counters. Expired sessions already fail validation;
// this only reclaims storage.
func pruneSessions(ctx context.Context, registry *session.Registry, ledger *quota.Ledger, logger *zap.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := registry.PruneExpired(ctx)
			if err != nil {
				logger.Warn("session prune failed", zap.Error(err))
				continue
			}
			for _, id := range ids {
				if err := ledger.Forget(ctx, session.QuotaIdentity(id)); err != nil {
					logger.Warn("quota counter cleanup failed",
						zap.String("session_id", id),
						zap.Error(err),
					)
				}
			}
			if len(ids) > 0 {
				logger.Info("pruned expired sessions", zap.Int("count", len(ids)))
			}
		}
	}
}
