package vectorstore

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/answerdhq/answerd/internal/config"
	"github.com/answerdhq/answerd/internal/embeddings"
)

// NewStore creates a Store based on the configured backend:
//   - "chromem" (default): embedded pure-Go store, no external services
//   - "sqlite": chunks live in the application database, brute-force scan
//   - "qdrant": remote Qdrant server over gRPC
//
// The db handle is only required for the sqlite backend; other backends
// ignore it.
func NewStore(cfg config.VectorConfig, embedder embeddings.Provider, db *sql.DB, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "chromem", "":
		return NewChromemStore(ChromemConfig{
			Path:       cfg.Path,
			VectorSize: cfg.Dimension,
		}, embedder, logger)

	case "sqlite":
		return NewSQLiteStore(db, embedder, cfg.Dimension, logger)

	case "qdrant":
		return NewQdrantStore(QdrantConfig{
			Host:       cfg.Host,
			Port:       cfg.Port,
			VectorSize: uint64(cfg.Dimension),
			UseTLS:     cfg.UseTLS,
		}, embedder, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported backend %q (supported: chromem, sqlite, qdrant)", ErrInvalidConfig, cfg.Backend)
	}
}
