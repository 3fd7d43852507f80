package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/answerdhq/answerd/internal/config"
	"github.com/answerdhq/answerd/internal/embeddings"
	"github.com/answerdhq/answerd/internal/logging"
	"github.com/answerdhq/answerd/internal/storage/sqlite"
	"github.com/answerdhq/answerd/internal/vectorstore"
)

// app holds the wired infrastructure shared by subcommands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	storage  *sqlite.Store
	embedder embeddings.Provider
	vectors  vectorstore.Store
}

// newStorageApp loads configuration and opens the relational tier
// only. Subcommands that never touch embeddings use this wiring so
// they work without embedding credentials.
func newStorageApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	storage, err := sqlite.Open(databasePath(cfg.Storage.DataDir))
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	return &app{cfg: cfg, logger: logger, storage: storage}, nil
}

// newApp loads configuration and wires storage, embeddings and the
// vector store. Callers must Close when done.
func newApp() (*app, error) {
	a, err := newStorageApp()
	if err != nil {
		return nil, err
	}
	cfg, storage, logger := a.cfg, a.storage, a.logger

	embedder, err := embeddings.NewProvider(cfg.Embeddings)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("initializing embeddings: %w", err)
	}

	vcfg := cfg.Vector
	vcfg.Path = expandHome(vcfg.Path)
	vectors, err := vectorstore.NewStore(vcfg, embedder, storage.DB(), logger)
	if err != nil {
		embedder.Close()
		storage.Close()
		return nil, fmt.Errorf("initializing vector store: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		storage:  storage,
		embedder: embedder,
		vectors:  vectors,
	}, nil
}

// Close releases the app's resources in reverse wiring order.
func (a *app) Close() {
	if a.vectors != nil {
		a.vectors.Close()
	}
	if a.embedder != nil {
		a.embedder.Close()
	}
	a.storage.Close()
	_ = a.logger.Sync()
}

// databasePath resolves the SQLite file path from the configured data
// directory. Empty means the storage package default.
func databasePath(dataDir string) string {
	if dataDir == "" {
		return ""
	}
	return filepath.Join(expandHome(dataDir), "answerd.db")
}

// expandHome resolves a leading "~/" against the current user's home.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") && path != "~" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
