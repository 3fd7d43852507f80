package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/answerdhq/answerd/internal/embeddings"
	"github.com/answerdhq/answerd/internal/sanitize"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

var chromemTracer = otel.Tracer("answerd.vectorstore.chromem")

// Reserved metadata keys carried on every stored chunk.
const (
	metaDocumentID = "document_id"
	metaChunkIndex = "chunk_index"
)

// ChromemConfig holds configuration for the chromem-go embedded backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.local/share/answerd/vectors"
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// VectorSize is the expected embedding dimension.
	// Must match the embedder's output dimension.
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.local/share/answerd/vectors"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 1536
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore implements Store using chromem-go, an embeddable pure-Go
// vector database persisted to gob files. Each tenant scope maps to its
// own collection, so cross-scope reads are impossible at the storage
// level rather than relying on payload filtering.
//
// chromem has no enumeration API, so per-document bookkeeping (chunk
// counts, byte sizes) lives in a manifest file alongside the gob data.
// The manifest is advisory: losing it degrades Stats and the
// DeleteByDocument count but never search correctness.
type ChromemStore struct {
	db       *chromem.DB
	embedder embeddings.Provider
	config   ChromemConfig
	logger   *zap.Logger
	metrics  *Metrics

	mu       sync.Mutex
	manifest *manifest
}

var _ Store = (*ChromemStore)(nil)

// NewChromemStore creates a ChromemStore rooted at config.Path.
func NewChromemStore(config ChromemConfig, embedder embeddings.Provider, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	expandedPath, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(expandedPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
	}

	db, err := chromem.NewPersistentDB(expandedPath, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	m, err := loadManifest(filepath.Join(expandedPath, "manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}

	store := &ChromemStore{
		db:       db,
		embedder: embedder,
		config:   config,
		logger:   logger,
		metrics:  DefaultMetrics(),
		manifest: m,
	}

	logger.Info("chromem store initialized",
		zap.String("path", expandedPath),
		zap.Bool("compress", config.Compress),
		zap.Int("vector_size", config.VectorSize),
	)

	return store, nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

func (s *ChromemStore) collectionFor(scope string) (*chromem.Collection, error) {
	name := sanitize.CollectionName(scope)
	collection, err := s.db.GetOrCreateCollection(name, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", name, err)
	}
	return collection, nil
}

// chunkID builds the stable chromem document ID for a chunk. Re-using
// the same ID on upsert is what makes the operation idempotent.
func chunkID(documentID string, index int) string {
	return documentID + "#" + strconv.Itoa(index)
}

// Upsert replaces the document's chunks within the scope. Embeddings
// are computed before any mutation, so an embedding failure leaves the
// stored document untouched.
func (s *ChromemStore) Upsert(ctx context.Context, scope, documentID string, chunks []Chunk) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.String("scope", scope),
		attribute.String("document_id", documentID),
		attribute.Int("chunk_count", len(chunks)),
	)

	start := timeNow()
	err := s.upsert(ctx, scope, documentID, chunks)
	s.metrics.observe("chromem", "upsert", timeNow().Sub(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

func (s *ChromemStore) upsert(ctx context.Context, scope, documentID string, chunks []Chunk) error {
	if scope == "" || documentID == "" {
		return fmt.Errorf("%w: scope and document ID are required", ErrInvalidConfig)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("%w: at least one chunk is required", ErrInvalidConfig)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	for i, v := range vectors {
		if len(v) != s.config.VectorSize {
			return fmt.Errorf("%w: chunk %d has dimension %d, want %d",
				ErrDimensionMismatch, chunks[i].Index, len(v), s.config.VectorSize)
		}
	}

	collection, err := s.collectionFor(scope)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Clear the previous version first so chunks absent from the new
	// set do not survive as stale rows.
	if err := collection.Delete(ctx, map[string]string{metaDocumentID: documentID}, nil); err != nil {
		return fmt.Errorf("clearing previous chunks: %w", err)
	}

	docs := make([]chromem.Document, len(chunks))
	var totalBytes int64
	for i, c := range chunks {
		meta := map[string]string{
			metaDocumentID: documentID,
			metaChunkIndex: strconv.Itoa(c.Index),
		}
		for k, v := range c.Metadata.Strings() {
			if k == metaDocumentID || k == metaChunkIndex {
				continue
			}
			meta[k] = v
		}
		docs[i] = chromem.Document{
			ID:        chunkID(documentID, c.Index),
			Content:   c.Text,
			Metadata:  meta,
			Embedding: vectors[i],
		}
		totalBytes += int64(len(c.Text))
	}

	// Concurrency of 1 since embeddings are already computed.
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		// Roll back to an absent document rather than leaving a
		// partially written one behind.
		if delErr := collection.Delete(ctx, map[string]string{metaDocumentID: documentID}, nil); delErr != nil {
			s.logger.Error("rollback after failed upsert also failed",
				zap.String("scope", scope),
				zap.String("document_id", documentID),
				zap.Error(delErr),
			)
		}
		s.manifest.remove(scope, documentID)
		s.saveManifestLocked()
		return fmt.Errorf("adding chunks: %w", err)
	}

	s.manifest.set(scope, documentID, docStat{Chunks: len(chunks), Bytes: totalBytes})
	s.saveManifestLocked()

	s.logger.Debug("upserted document chunks",
		zap.String("scope", scope),
		zap.String("document_id", documentID),
		zap.Int("chunks", len(chunks)),
	)
	return nil
}

// Search embeds the query and returns up to k chunks at or above floor.
func (s *ChromemStore) Search(ctx context.Context, scope, query string, k int, floor float32) ([]SearchResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()

	span.SetAttributes(
		attribute.String("scope", scope),
		attribute.Int("k", k),
	)

	start := timeNow()
	results, err := s.search(ctx, scope, query, k, floor)
	s.metrics.observe("chromem", "search", timeNow().Sub(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

func (s *ChromemStore) search(ctx context.Context, scope, query string, k int, floor float32) ([]SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidConfig, k)
	}
	if query == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", ErrInvalidConfig)
	}

	collection := s.db.GetCollection(sanitize.CollectionName(scope), s.embeddingFunc())
	if collection == nil {
		// Unknown scope: nothing stored yet.
		return []SearchResult{}, nil
	}

	// chromem requires nResults <= document count.
	docCount := collection.Count()
	if docCount == 0 {
		return []SearchResult{}, nil
	}
	n := k
	if n > docCount {
		n = docCount
	}

	raw, err := collection.Query(ctx, query, n, nil, nil)
	if err != nil {
		if strings.Contains(err.Error(), "couldn't create embedding") {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
		return nil, fmt.Errorf("querying scope %s: %w", scope, err)
	}

	results := make([]SearchResult, 0, len(raw))
	for _, r := range raw {
		idx, _ := strconv.Atoi(r.Metadata[metaChunkIndex])
		meta := make(map[string]string, len(r.Metadata))
		for mk, mv := range r.Metadata {
			if mk == metaDocumentID || mk == metaChunkIndex {
				continue
			}
			meta[mk] = mv
		}
		results = append(results, SearchResult{
			DocumentID: r.Metadata[metaDocumentID],
			ChunkIndex: idx,
			Text:       r.Content,
			Metadata:   MetadataFromStrings(meta),
			Similarity: r.Similarity,
		})
	}
	return truncateResults(results, k, floor), nil
}

// DeleteByDocument removes every chunk of the document and returns how
// many chunks were removed.
func (s *ChromemStore) DeleteByDocument(ctx context.Context, scope, documentID string) (int, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteByDocument")
	defer span.End()

	span.SetAttributes(
		attribute.String("scope", scope),
		attribute.String("document_id", documentID),
	)

	collection := s.db.GetCollection(sanitize.CollectionName(scope), s.embeddingFunc())
	if collection == nil {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before := collection.Count()
	if err := collection.Delete(ctx, map[string]string{metaDocumentID: documentID}, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("deleting document %s: %w", documentID, err)
	}
	removed := before - collection.Count()

	s.manifest.remove(scope, documentID)
	s.saveManifestLocked()

	span.SetAttributes(attribute.Int("chunks_removed", removed))
	span.SetStatus(codes.Ok, "success")

	s.logger.Debug("deleted document",
		zap.String("scope", scope),
		zap.String("document_id", documentID),
		zap.Int("chunks", removed),
	)
	return removed, nil
}

// DeleteByScope drops the scope's collection entirely.
func (s *ChromemStore) DeleteByScope(ctx context.Context, scope string) error {
	_, span := chromemTracer.Start(ctx, "ChromemStore.DeleteByScope")
	defer span.End()

	span.SetAttributes(attribute.String("scope", scope))

	s.mu.Lock()
	defer s.mu.Unlock()

	name := sanitize.CollectionName(scope)
	if s.db.GetCollection(name, s.embeddingFunc()) == nil {
		return nil
	}
	if err := s.db.DeleteCollection(name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting scope %s: %w", scope, err)
	}

	s.manifest.removeScope(scope)
	s.saveManifestLocked()

	span.SetStatus(codes.Ok, "success")
	s.logger.Info("deleted scope", zap.String("scope", scope))
	return nil
}

// Stats reports chunk and document counts for the scope. Chunk count
// comes from the live collection; document and byte totals come from
// the manifest.
func (s *ChromemStore) Stats(ctx context.Context, scope string) (*ScopeStats, error) {
	_, span := chromemTracer.Start(ctx, "ChromemStore.Stats")
	defer span.End()

	span.SetAttributes(attribute.String("scope", scope))

	stats := &ScopeStats{}
	if collection := s.db.GetCollection(sanitize.CollectionName(scope), s.embeddingFunc()); collection != nil {
		stats.ChunkCount = collection.Count()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	docs, bytes := s.manifest.scopeTotals(scope)
	stats.DocumentCount = docs
	stats.TotalBytes = bytes

	span.SetStatus(codes.Ok, "success")
	return stats, nil
}

// Close flushes nothing: chromem persists synchronously on write.
func (s *ChromemStore) Close() error {
	return nil
}

func (s *ChromemStore) saveManifestLocked() {
	if err := s.manifest.save(); err != nil {
		s.logger.Warn("failed to persist manifest", zap.Error(err))
	}
}
