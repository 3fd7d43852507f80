// Package retrieval turns a user question into ranked supporting
// context. It wraps the vector store with the service's retrieval
// policy: top-K, a similarity floor, a single retry on transient
// failure and provenance previews for source citations.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/answerdhq/answerd/internal/config"
	"github.com/answerdhq/answerd/internal/vectorstore"
)

var tracer = otel.Tracer("answerd.retrieval")

// previewLength caps source previews. Longer chunk text is cut at this
// many runes with an ellipsis appended.
const previewLength = 200

// ErrUnavailable indicates retrieval failed even after a retry.
var ErrUnavailable = errors.New("retrieval unavailable")

// Source cites one retrieved chunk.
type Source struct {
	DocumentID     string
	ChunkIndex     int
	Similarity     float32
	ContentPreview string
}

// Result is the outcome of a retrieval pass.
type Result struct {
	// Chunks are the retrieved chunks, best first.
	Chunks []vectorstore.SearchResult

	// Sources cite the chunks for the response payload.
	Sources []Source

	// UsedContext is false when nothing cleared the similarity floor.
	// The prompt is assembled differently in that case.
	UsedContext bool
}

// Engine executes retrievals against one vector store.
type Engine struct {
	store  vectorstore.Store
	topK   int
	floor  float32
	logger *zap.Logger
}

// NewEngine creates an Engine with the configured retrieval policy.
func NewEngine(store vectorstore.Store, cfg config.RetrievalConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  store,
		topK:   cfg.TopK,
		floor:  cfg.SimilarityFloor,
		logger: logger,
	}
}

// Retrieve searches the scope for context supporting the query. A
// transient store failure is retried once; a second failure surfaces
// as ErrUnavailable. An empty result is not an error: the caller
// answers without context.
func (e *Engine) Retrieve(ctx context.Context, scope, query string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Engine.Retrieve")
	defer span.End()

	span.SetAttributes(
		attribute.String("scope", scope),
		attribute.Int("top_k", e.topK),
	)

	start := time.Now()
	chunks, err := e.store.Search(ctx, scope, query, e.topK, e.floor)
	if err != nil && ctx.Err() == nil {
		e.logger.Warn("retrieval failed, retrying once",
			zap.String("scope", scope),
			zap.Error(err),
		)
		chunks, err = e.store.Search(ctx, scope, query, e.topK, e.floor)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	result := &Result{
		Chunks:      chunks,
		UsedContext: len(chunks) > 0,
	}
	for _, c := range chunks {
		result.Sources = append(result.Sources, Source{
			DocumentID:     c.DocumentID,
			ChunkIndex:     c.ChunkIndex,
			Similarity:     c.Similarity,
			ContentPreview: preview(c.Text),
		})
	}

	span.SetAttributes(
		attribute.Int("results_count", len(chunks)),
		attribute.Bool("used_context", result.UsedContext),
	)
	span.SetStatus(codes.Ok, "success")

	e.logger.Debug("retrieval complete",
		zap.String("scope", scope),
		zap.Int("results", len(chunks)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// preview truncates chunk text for citation. Cutting on runes keeps
// multi-byte characters intact.
func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLength {
		return text
	}
	return string(runes[:previewLength]) + "..."
}
