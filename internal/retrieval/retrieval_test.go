package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/answerdhq/answerd/internal/config"
	"github.com/answerdhq/answerd/internal/vectorstore"
)

// fakeStore scripts Search responses per call.
type fakeStore struct {
	responses []func() ([]vectorstore.SearchResult, error)
	calls     int
	lastK     int
	lastFloor float32
}

func (f *fakeStore) Search(ctx context.Context, scope, query string, k int, floor float32) ([]vectorstore.SearchResult, error) {
	f.lastK = k
	f.lastFloor = floor
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i]()
}

func (f *fakeStore) Upsert(ctx context.Context, scope, documentID string, chunks []vectorstore.Chunk) error {
	return nil
}
func (f *fakeStore) DeleteByDocument(ctx context.Context, scope, documentID string) (int, error) {
	return 0, nil
}
func (f *fakeStore) DeleteByScope(ctx context.Context, scope string) error { return nil }
func (f *fakeStore) Stats(ctx context.Context, scope string) (*vectorstore.ScopeStats, error) {
	return &vectorstore.ScopeStats{}, nil
}
func (f *fakeStore) Close() error { return nil }

func ok(results ...vectorstore.SearchResult) func() ([]vectorstore.SearchResult, error) {
	return func() ([]vectorstore.SearchResult, error) { return results, nil }
}

func fail(err error) func() ([]vectorstore.SearchResult, error) {
	return func() ([]vectorstore.SearchResult, error) { return nil, err }
}

func newEngine(store vectorstore.Store) *Engine {
	return NewEngine(store, config.RetrievalConfig{TopK: 5, SimilarityFloor: 0.3}, nil)
}

func TestRetrievePassesPolicy(t *testing.T) {
	store := &fakeStore{responses: []func() ([]vectorstore.SearchResult, error){ok()}}
	engine := newEngine(store)

	result, err := engine.Retrieve(context.Background(), "support", "question")
	require.NoError(t, err)
	assert.Equal(t, 5, store.lastK)
	assert.Equal(t, float32(0.3), store.lastFloor)
	assert.False(t, result.UsedContext)
	assert.Empty(t, result.Sources)
}

func TestRetrieveBuildsSources(t *testing.T) {
	store := &fakeStore{responses: []func() ([]vectorstore.SearchResult, error){ok(
		vectorstore.SearchResult{DocumentID: "handbook", ChunkIndex: 3, Text: "short text", Similarity: 0.91},
		vectorstore.SearchResult{DocumentID: "faq", ChunkIndex: 0, Text: strings.Repeat("a", 250), Similarity: 0.52},
	)}}
	engine := newEngine(store)

	result, err := engine.Retrieve(context.Background(), "support", "question")
	require.NoError(t, err)
	assert.True(t, result.UsedContext)
	require.Len(t, result.Sources, 2)

	assert.Equal(t, "handbook", result.Sources[0].DocumentID)
	assert.Equal(t, 3, result.Sources[0].ChunkIndex)
	assert.Equal(t, float32(0.91), result.Sources[0].Similarity)
	assert.Equal(t, "short text", result.Sources[0].ContentPreview)

	assert.Equal(t, strings.Repeat("a", 200)+"...", result.Sources[1].ContentPreview)
}

func TestRetrieveRetriesOnce(t *testing.T) {
	store := &fakeStore{responses: []func() ([]vectorstore.SearchResult, error){
		fail(errors.New("transient")),
		ok(vectorstore.SearchResult{DocumentID: "doc", Text: "content", Similarity: 0.8}),
	}}
	engine := newEngine(store)

	result, err := engine.Retrieve(context.Background(), "support", "question")
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls)
	assert.True(t, result.UsedContext)
}

func TestRetrieveGivesUpAfterRetry(t *testing.T) {
	store := &fakeStore{responses: []func() ([]vectorstore.SearchResult, error){
		fail(errors.New("down")),
		fail(errors.New("still down")),
	}}
	engine := newEngine(store)

	_, err := engine.Retrieve(context.Background(), "support", "question")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 2, store.calls)
}

func TestPreviewRuneSafe(t *testing.T) {
	text := strings.Repeat("é", 210)
	p := preview(text)
	assert.Equal(t, strings.Repeat("é", 200)+"...", p)

	assert.Equal(t, "unchanged", preview("unchanged"))
}
