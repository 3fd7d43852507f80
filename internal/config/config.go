// Package config provides configuration loading for answerd.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_HTTP_PORT, EMBEDDINGS_MODEL, ...)
//  2. YAML config file
//  3. Hardcoded defaults
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete answerd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Storage    StorageConfig    `koanf:"storage"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Generator  GeneratorConfig  `koanf:"generator"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
	Vector     VectorConfig     `koanf:"vector"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// StorageConfig holds the relational tier configuration.
type StorageConfig struct {
	// DataDir is the directory holding the SQLite database file.
	DataDir string `koanf:"data_dir"`
}

// EmbeddingsConfig holds embedding provider configuration.
type EmbeddingsConfig struct {
	// Provider is "openai" or "static" (deterministic, for tests/dev).
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   Secret `koanf:"api_key"`
	// Timeout bounds each embedding API call; a timeout surfaces as
	// retrieval-unavailable, never as a hang.
	Timeout Duration `koanf:"timeout"`
	// RequestsPerSecond throttles outbound embedding calls.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// GeneratorConfig holds generation model configuration.
type GeneratorConfig struct {
	Model       string   `koanf:"model"`
	BaseURL     string   `koanf:"base_url"`
	APIKey      Secret   `koanf:"api_key"`
	MaxTokens   int      `koanf:"max_tokens"`
	Temperature float32  `koanf:"temperature"`
	Timeout     Duration `koanf:"timeout"`
}

// RetrievalConfig tunes the retrieval engine.
type RetrievalConfig struct {
	// TopK is the number of chunks fed to the generator.
	TopK int `koanf:"top_k"`
	// SimilarityFloor is the minimum cosine similarity (normalized to
	// [0,1]) for a chunk to count as relevant. Below-floor results are
	// dropped so low-relevance noise never reaches the prompt.
	SimilarityFloor float32 `koanf:"similarity_floor"`
}

// VectorConfig selects and configures the chunk store backend.
type VectorConfig struct {
	// Backend is "chromem", "sqlite", or "qdrant".
	Backend string `koanf:"backend"`
	// Path is the chromem persistence directory (chromem backend only).
	Path string `koanf:"path"`
	// Dimension is the embedding dimensionality. Must match the
	// embedding provider's output for the store's whole lifetime.
	Dimension int `koanf:"dimension"`
	// Host/Port/UseTLS configure the qdrant backend.
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
}

// Default returns a Config with production-ready defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8090,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			DataDir: "~/.config/answerd/data",
		},
		Embeddings: EmbeddingsConfig{
			Provider:          "openai",
			Model:             "text-embedding-3-small",
			Timeout:           Duration(15 * time.Second),
			RequestsPerSecond: 8.0,
			Burst:             16,
		},
		Generator: GeneratorConfig{
			Model:       "gpt-4o-mini",
			MaxTokens:   1024,
			Temperature: 0.2,
			Timeout:     Duration(60 * time.Second),
		},
		Retrieval: RetrievalConfig{
			TopK:            5,
			SimilarityFloor: 0.3,
		},
		Vector: VectorConfig{
			Backend:   "chromem",
			Path:      "~/.config/answerd/vectorstore",
			Dimension: 1536,
			Host:      "localhost",
			Port:      6334,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q", c.Logging.Format)
	}
	switch c.Vector.Backend {
	case "chromem", "sqlite", "qdrant":
	default:
		return fmt.Errorf("invalid vector backend: %q", c.Vector.Backend)
	}
	if c.Vector.Dimension <= 0 {
		return errors.New("vector dimension must be positive")
	}
	if c.Retrieval.TopK <= 0 {
		return errors.New("retrieval top_k must be positive")
	}
	if c.Retrieval.SimilarityFloor < 0 || c.Retrieval.SimilarityFloor > 1 {
		return fmt.Errorf("similarity floor must be in [0,1], got %g", c.Retrieval.SimilarityFloor)
	}
	if c.Embeddings.Timeout.Duration() <= 0 || c.Generator.Timeout.Duration() <= 0 {
		return errors.New("embedding and generator timeouts must be positive")
	}
	return nil
}
