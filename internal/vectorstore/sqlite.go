package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/answerdhq/answerd/internal/embeddings"
)

var sqliteTracer = otel.Tracer("answerd.vectorstore.sqlite")

// SQLiteStore implements Store on a relational chunks table with
// embeddings stored as little-endian float32 blobs. Search is a
// brute-force scan over the scope's rows with cosine scoring in Go,
// which is fine for the corpus sizes a single project carries.
//
// The store shares the application's database handle; the chunks table
// is created by the storage package's migrations.
type SQLiteStore struct {
	db       *sql.DB
	embedder embeddings.Provider
	logger   *zap.Logger
	metrics  *Metrics
	dim      int
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a SQLiteStore over an open database handle.
func NewSQLiteStore(db *sql.DB, embedder embeddings.Provider, dimension int, logger *zap.Logger) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: database handle is required", ErrInvalidConfig)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStore{
		db:       db,
		embedder: embedder,
		logger:   logger,
		metrics:  DefaultMetrics(),
		dim:      dimension,
	}, nil
}

// vectorToBlob encodes a float32 slice as little-endian bytes.
func vectorToBlob(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// blobToVector decodes little-endian bytes back to float32s.
func blobToVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// cosine computes cosine similarity between two vectors of equal length.
func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// Upsert replaces the document's chunks in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, scope, documentID string, chunks []Chunk) error {
	ctx, span := sqliteTracer.Start(ctx, "SQLiteStore.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.String("scope", scope),
		attribute.String("document_id", documentID),
		attribute.Int("chunk_count", len(chunks)),
	)

	start := time.Now()
	err := s.upsert(ctx, scope, documentID, chunks)
	s.metrics.observe("sqlite", "upsert", time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

func (s *SQLiteStore) upsert(ctx context.Context, scope, documentID string, chunks []Chunk) error {
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
		if len(v) != s.dim {
			return fmt.Errorf("%w: chunk %d has dimension %d, want %d",
				ErrDimensionMismatch, chunks[i].Index, len(v), s.dim)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE scope = ? AND document_id = ?`,
		scope, documentID,
	); err != nil {
		return fmt.Errorf("clearing previous chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (scope, document_id, chunk_index, content, metadata, embedding)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range chunks {
		var metaJSON []byte
		if len(c.Metadata) > 0 {
			metaJSON, err = json.Marshal(c.Metadata.Strings())
			if err != nil {
				return fmt.Errorf("encoding metadata for chunk %d: %w", c.Index, err)
			}
		}
		if _, err := stmt.ExecContext(ctx,
			scope, documentID, c.Index, c.Text, metaJSON, vectorToBlob(vectors[i]),
		); err != nil {
			return fmt.Errorf("inserting chunk %d: %w", c.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	s.logger.Debug("upserted document chunks",
		zap.String("scope", scope),
		zap.String("document_id", documentID),
		zap.Int("chunks", len(chunks)),
	)
	return nil
}

// Search embeds the query and scans the scope's chunks for the top
// matches at or above floor.
func (s *SQLiteStore) Search(ctx context.Context, scope, query string, k int, floor float32) ([]SearchResult, error) {
	ctx, span := sqliteTracer.Start(ctx, "SQLiteStore.Search")
	defer span.End()

	span.SetAttributes(
		attribute.String("scope", scope),
		attribute.Int("k", k),
	)

	start := time.Now()
	results, err := s.search(ctx, scope, query, k, floor)
	s.metrics.observe("sqlite", "search", time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

func (s *SQLiteStore) search(ctx context.Context, scope, query string, k int, floor float32) ([]SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidConfig, k)
	}
	if query == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", ErrInvalidConfig)
	}

	queryVector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, chunk_index, content, metadata, embedding
		FROM chunks WHERE scope = ?`, scope)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			docID    string
			idx      int
			content  string
			metaJSON sql.NullString
			blob     []byte
		)
		if err := rows.Scan(&docID, &idx, &content, &metaJSON, &blob); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		vec := blobToVector(blob)
		if len(vec) != len(queryVector) {
			s.logger.Warn("skipping chunk with mismatched dimension",
				zap.String("document_id", docID),
				zap.Int("chunk_index", idx),
				zap.Int("dimension", len(vec)),
			)
			continue
		}
		r := SearchResult{
			DocumentID: docID,
			ChunkIndex: idx,
			Text:       content,
			Similarity: cosine(queryVector, vec),
		}
		if metaJSON.Valid && metaJSON.String != "" {
			var meta map[string]string
			if err := json.Unmarshal([]byte(metaJSON.String), &meta); err == nil {
				r.Metadata = MetadataFromStrings(meta)
			}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	truncated := truncateResults(results, k, floor)
	if truncated == nil {
		truncated = []SearchResult{}
	}
	return truncated, nil
}

// DeleteByDocument removes the document's chunks and reports the count.
func (s *SQLiteStore) DeleteByDocument(ctx context.Context, scope, documentID string) (int, error) {
	ctx, span := sqliteTracer.Start(ctx, "SQLiteStore.DeleteByDocument")
	defer span.End()

	span.SetAttributes(
		attribute.String("scope", scope),
		attribute.String("document_id", documentID),
	)

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE scope = ? AND document_id = ?`,
		scope, documentID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("deleting document %s: %w", documentID, err)
	}
	n, _ := res.RowsAffected()

	span.SetAttributes(attribute.Int("chunks_removed", int(n)))
	span.SetStatus(codes.Ok, "success")
	return int(n), nil
}

// DeleteByScope removes every chunk in the scope.
func (s *SQLiteStore) DeleteByScope(ctx context.Context, scope string) error {
	ctx, span := sqliteTracer.Start(ctx, "SQLiteStore.DeleteByScope")
	defer span.End()

	span.SetAttributes(attribute.String("scope", scope))

	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE scope = ?`, scope); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting scope %s: %w", scope, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Stats aggregates chunk, document and byte counts with plain SQL.
func (s *SQLiteStore) Stats(ctx context.Context, scope string) (*ScopeStats, error) {
	ctx, span := sqliteTracer.Start(ctx, "SQLiteStore.Stats")
	defer span.End()

	span.SetAttributes(attribute.String("scope", scope))

	stats := &ScopeStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT document_id), COALESCE(SUM(LENGTH(content)), 0)
		FROM chunks WHERE scope = ?`, scope,
	).Scan(&stats.ChunkCount, &stats.DocumentCount, &stats.TotalBytes)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("aggregating scope stats: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return stats, nil
}

// Close is a no-op: the database handle is owned by the caller.
func (s *SQLiteStore) Close() error {
	return nil
}
