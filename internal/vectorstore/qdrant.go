package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/answerdhq/answerd/internal/embeddings"
	"github.com/answerdhq/answerd/internal/sanitize"
)

var qdrantTracer = otel.Tracer("answerd.vectorstore.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC backend.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334), not the HTTP REST port.
	Port int

	// VectorSize is the embedding dimension. Must match the embedder.
	VectorSize uint64

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries is the retry budget for transient failures.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubling per retry.
	RetryBackoff time.Duration

	// MaxMessageSize is the gRPC message size cap in bytes.
	MaxMessageSize int

	// CircuitBreakerThreshold is the failure count that opens the circuit.
	CircuitBreakerThreshold int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.VectorSize == 0 {
		c.VectorSize = 1536
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore implements Store against a remote Qdrant instance over
// native gRPC. Each tenant scope maps to its own collection. Point IDs
// are UUIDv5 digests of (scope, document, index), so re-upserting a
// chunk overwrites its previous point instead of duplicating it.
type QdrantStore struct {
	client   *qdrant.Client
	embedder embeddings.Provider
	config   QdrantConfig
	logger   *zap.Logger
	metrics  *Metrics

	// collections caches collection existence to skip repeated checks.
	collections sync.Map

	circuitBreaker struct {
		failures int
		lastFail time.Time
		mu       sync.Mutex
	}
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore connects to Qdrant and verifies the connection with a
// health check before returning.
func NewQdrantStore(config QdrantConfig, embedder embeddings.Provider, logger *zap.Logger) (*QdrantStore, error) {
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

	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext, enable TLS for production")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	store := &QdrantStore{
		client:   client,
		embedder: embedder,
		config:   config,
		logger:   logger,
		metrics:  DefaultMetrics(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrUnavailable, err)
	}

	logger.Info("qdrant store initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.Uint64("vector_size", config.VectorSize),
	)
	return store, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// retryOperation retries transient failures with exponential backoff.
func (s *QdrantStore) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			s.resetCircuitBreaker()
			return nil
		}

		if s.isCircuitOpen() {
			return fmt.Errorf("%w: %s: circuit breaker open", ErrUnavailable, operationName)
		}

		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}

		s.recordFailure()

		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%w: %s failed after %d retries: %v", ErrUnavailable, operationName, s.config.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (s *QdrantStore) recordFailure() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures++
	s.circuitBreaker.lastFail = time.Now()
}

func (s *QdrantStore) resetCircuitBreaker() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures = 0
}

func (s *QdrantStore) isCircuitOpen() bool {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	if s.circuitBreaker.failures >= s.config.CircuitBreakerThreshold {
		// Allow retry after 30 seconds.
		if time.Since(s.circuitBreaker.lastFail) > 30*time.Second {
			s.circuitBreaker.failures = 0
			return false
		}
		return true
	}
	return false
}

// pointID derives the stable UUID for a chunk.
func pointID(scope, documentID string, index int) string {
	name := scope + "\x00" + documentID + "\x00" + strconv.Itoa(index)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func documentFilter(documentID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: metaDocumentID,
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: documentID},
						},
					},
				},
			},
		},
	}
}

func (s *QdrantStore) ensureCollection(ctx context.Context, name string) error {
	if _, ok := s.collections.Load(name); ok {
		return nil
	}
	var exists bool
	err := s.retryOperation(ctx, "collection_exists", func() error {
		info, err := s.client.GetCollectionInfo(ctx, name)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				exists = false
				return nil
			}
			return err
		}
		exists = info != nil
		return nil
	})
	if err != nil {
		return err
	}
	if !exists {
		err = s.retryOperation(ctx, "create_collection", func() error {
			return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: name,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     s.config.VectorSize,
					Distance: qdrant.Distance_Cosine,
				}),
			})
		})
		if err != nil {
			return err
		}
	}
	s.collections.Store(name, true)
	return nil
}

// Upsert replaces the document's chunks within the scope.
func (s *QdrantStore) Upsert(ctx context.Context, scope, documentID string, chunks []Chunk) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.String("scope", scope),
		attribute.String("document_id", documentID),
		attribute.Int("chunk_count", len(chunks)),
	)

	start := time.Now()
	err := s.upsert(ctx, scope, documentID, chunks)
	s.metrics.observe("qdrant", "upsert", time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

func (s *QdrantStore) upsert(ctx context.Context, scope, documentID string, chunks []Chunk) error {
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
		if uint64(len(v)) != s.config.VectorSize {
			return fmt.Errorf("%w: chunk %d has dimension %d, want %d",
				ErrDimensionMismatch, chunks[i].Index, len(v), s.config.VectorSize)
		}
	}

	collectionName := sanitize.CollectionName(scope)
	if err := s.ensureCollection(ctx, collectionName); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		payload := map[string]*qdrant.Value{
			metaDocumentID: {Kind: &qdrant.Value_StringValue{StringValue: documentID}},
			metaChunkIndex: {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(c.Index)}},
			"content":      {Kind: &qdrant.Value_StringValue{StringValue: c.Text}},
		}
		for k, v := range c.Metadata {
			if k == metaDocumentID || k == metaChunkIndex || k == "content" {
				continue
			}
			switch v.Kind() {
			case KindNumber:
				n, _ := v.Number()
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: n}}
			case KindBool:
				b, _ := v.Bool()
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: b}}
			default:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v.String()}}
			}
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(scope, documentID, c.Index)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: payload,
		}
	}

	// Clear chunks of the previous version that the new set no longer
	// contains, then overwrite by point ID.
	err = s.retryOperation(ctx, "delete_previous", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collectionName,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: documentFilter(documentID)},
			},
		})
		return err
	})
	if err != nil {
		return err
	}

	err = s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collectionName,
			Points:         points,
		})
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Debug("upserted document chunks",
		zap.String("scope", scope),
		zap.String("document_id", documentID),
		zap.Int("chunks", len(chunks)),
	)
	return nil
}

// Search embeds the query and returns up to k chunks at or above floor.
func (s *QdrantStore) Search(ctx context.Context, scope, query string, k int, floor float32) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Search")
	defer span.End()

	span.SetAttributes(
		attribute.String("scope", scope),
		attribute.Int("k", k),
	)

	start := time.Now()
	results, err := s.search(ctx, scope, query, k, floor)
	s.metrics.observe("qdrant", "search", time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

func (s *QdrantStore) search(ctx context.Context, scope, query string, k int, floor float32) ([]SearchResult, error) {
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

	collectionName := sanitize.CollectionName(scope)

	var points []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collectionName,
			Query:          qdrant.NewQuery(queryVector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			ScoreThreshold: qdrant.PtrOf(floor),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				points = nil
				return nil
			}
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(points))
	for _, p := range points {
		r := SearchResult{Similarity: p.Score}
		meta := Metadata{}
		for key, v := range p.Payload {
			switch val := v.Kind.(type) {
			case *qdrant.Value_StringValue:
				switch key {
				case metaDocumentID:
					r.DocumentID = val.StringValue
				case "content":
					r.Text = val.StringValue
				default:
					meta[key] = MetaString(val.StringValue)
				}
			case *qdrant.Value_IntegerValue:
				if key == metaChunkIndex {
					r.ChunkIndex = int(val.IntegerValue)
				} else {
					meta[key] = MetaNumber(float64(val.IntegerValue))
				}
			case *qdrant.Value_DoubleValue:
				meta[key] = MetaNumber(val.DoubleValue)
			case *qdrant.Value_BoolValue:
				meta[key] = MetaBool(val.BoolValue)
			}
		}
		if len(meta) > 0 {
			r.Metadata = meta
		}
		results = append(results, r)
	}
	return truncateResults(results, k, floor), nil
}

// DeleteByDocument removes the document's chunks and reports how many
// points were removed, counted before the delete.
func (s *QdrantStore) DeleteByDocument(ctx context.Context, scope, documentID string) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteByDocument")
	defer span.End()

	span.SetAttributes(
		attribute.String("scope", scope),
		attribute.String("document_id", documentID),
	)

	collectionName := sanitize.CollectionName(scope)

	var count uint64
	err := s.retryOperation(ctx, "count", func() error {
		n, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: collectionName,
			Filter:         documentFilter(documentID),
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				count = 0
				return nil
			}
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	if count == 0 {
		span.SetStatus(codes.Ok, "success")
		return 0, nil
	}

	err = s.retryOperation(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collectionName,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: documentFilter(documentID)},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	span.SetAttributes(attribute.Int("chunks_removed", int(count)))
	span.SetStatus(codes.Ok, "success")
	return int(count), nil
}

// DeleteByScope drops the scope's collection.
func (s *QdrantStore) DeleteByScope(ctx context.Context, scope string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteByScope")
	defer span.End()

	span.SetAttributes(attribute.String("scope", scope))

	collectionName := sanitize.CollectionName(scope)
	err := s.retryOperation(ctx, "delete_collection", func() error {
		err := s.client.DeleteCollection(ctx, collectionName)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				return nil
			}
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.collections.Delete(collectionName)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Stats reports chunk and document counts for the scope. Byte totals
// are not tracked by this backend and report as zero.
func (s *QdrantStore) Stats(ctx context.Context, scope string) (*ScopeStats, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Stats")
	defer span.End()

	span.SetAttributes(attribute.String("scope", scope))

	collectionName := sanitize.CollectionName(scope)
	stats := &ScopeStats{}

	var missing bool
	err := s.retryOperation(ctx, "count", func() error {
		n, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: collectionName,
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				missing = true
				return nil
			}
			return err
		}
		stats.ChunkCount = int(n)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if missing {
		span.SetStatus(codes.Ok, "success")
		return stats, nil
	}

	// Facet over document IDs yields the distinct document count.
	err = s.retryOperation(ctx, "facet", func() error {
		hits, err := s.client.Facet(ctx, &qdrant.FacetCounts{
			CollectionName: collectionName,
			Key:            metaDocumentID,
			Limit:          qdrant.PtrOf(uint64(100000)),
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			return err
		}
		stats.DocumentCount = len(hits)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "success")
	return stats, nil
}
