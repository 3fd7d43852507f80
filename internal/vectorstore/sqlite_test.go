package vectorstore

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/answerdhq/answerd/internal/embeddings"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE chunks (
			scope       TEXT NOT NULL,
			document_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content     TEXT NOT NULL,
			metadata    TEXT,
			embedding   BLOB NOT NULL,
			PRIMARY KEY (scope, document_id, chunk_index)
		)`)
	require.NoError(t, err)

	store, err := NewSQLiteStore(db, embeddings.NewStaticProvider(64), 64, zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestSQLiteStoreUpsertAndSearch(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	err := store.Upsert(ctx, "proj1", "handbook", []Chunk{
		{Index: 0, Text: "remote work requires manager approval", Metadata: Metadata{"page": MetaNumber(4)}},
		{Index: 1, Text: "office hours are nine to five"},
	})
	require.NoError(t, err)

	results, err := store.Search(ctx, "proj1", "remote work requires manager approval", 5, 0.9)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "handbook", results[0].DocumentID)
	assert.Equal(t, 0, results[0].ChunkIndex)
	assert.Equal(t, "4", results[0].Metadata["page"].String())
	assert.InDelta(t, 1.0, float64(results[0].Similarity), 0.001)
}

func TestSQLiteStoreUpsertReplaces(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "proj1", "doc", testChunks("one", "two", "three")))
	require.NoError(t, store.Upsert(ctx, "proj1", "doc", testChunks("one", "two")))

	stats, err := store.Stats(ctx, "proj1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ChunkCount)
	assert.Equal(t, 1, stats.DocumentCount)
	assert.Equal(t, int64(len("one")+len("two")), stats.TotalBytes)
}

func TestSQLiteStoreDeleteByDocument(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "proj1", "a", testChunks("first", "second")))
	require.NoError(t, store.Upsert(ctx, "proj1", "b", testChunks("third")))

	n, err := store.DeleteByDocument(ctx, "proj1", "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.DeleteByDocument(ctx, "proj1", "missing")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteStoreScopeIsolationAndDelete(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "proj1", "doc", testChunks("apple")))
	require.NoError(t, store.Upsert(ctx, "proj2", "doc", testChunks("banana")))

	results, err := store.Search(ctx, "proj2", "apple", 5, 0.99)
	require.NoError(t, err)
	assert.Empty(t, results)

	require.NoError(t, store.DeleteByScope(ctx, "proj1"))
	stats, err := store.Stats(ctx, "proj1")
	require.NoError(t, err)
	assert.Zero(t, stats.ChunkCount)

	stats, err = store.Stats(ctx, "proj2")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ChunkCount)
}

func TestVectorBlobRoundTrip(t *testing.T) {
	in := []float32{0.5, -1.25, 0, 3.75}
	out := blobToVector(vectorToBlob(in))
	assert.Equal(t, in, out)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, float64(cosine([]float32{1, 0}, []float32{1, 0})), 1e-6)
	assert.InDelta(t, 0.0, float64(cosine([]float32{1, 0}, []float32{0, 1})), 1e-6)
	assert.InDelta(t, -1.0, float64(cosine([]float32{1, 0}, []float32{-1, 0})), 1e-6)
	assert.Zero(t, cosine([]float32{0, 0}, []float32{1, 0}))
}
