// Package vectorstore stores document chunks with their embeddings and
// serves similarity search over them. Chunks are partitioned into
// isolated tenant scopes; a search in one scope never observes chunks
// from another.
//
// Three backends implement the same Store interface: chromem (embedded,
// persistent, pure Go), sqlite (relational, brute-force scan) and
// qdrant (remote gRPC). NewStore selects one from config.
package vectorstore

import (
	"context"
	"errors"
	"sort"
)

var (
	// ErrInvalidConfig indicates the backend configuration is unusable.
	ErrInvalidConfig = errors.New("invalid vector store configuration")

	// ErrEmbeddingFailed indicates the embedding provider failed, so the
	// operation never reached the underlying store.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrDimensionMismatch indicates a vector's dimension does not match
	// the collection's configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrUnavailable indicates the backend could not be reached.
	ErrUnavailable = errors.New("vector store unavailable")
)

// Store persists chunks and answers similarity queries over them.
//
// Upsert replaces the named document's chunks within the scope: chunks
// that share (documentID, index) with existing rows are overwritten,
// and the call is atomic per document as far as the backend allows.
// Re-running an identical Upsert leaves the store unchanged.
//
// Search embeds the query, returns at most k chunks from the scope with
// similarity >= floor, ordered by similarity descending. Equal scores
// order by document ID then chunk index, so repeated identical searches
// return identical slices. An unknown scope returns an empty result,
// not an error.
//
// DeleteByDocument removes every chunk of one document and reports how
// many were removed (0 for an unknown document). DeleteByScope removes
// the entire scope and is a no-op when the scope does not exist.
type Store interface {
	Upsert(ctx context.Context, scope, documentID string, chunks []Chunk) error
	Search(ctx context.Context, scope, query string, k int, floor float32) ([]SearchResult, error)
	DeleteByDocument(ctx context.Context, scope, documentID string) (int, error)
	DeleteByScope(ctx context.Context, scope string) error
	Stats(ctx context.Context, scope string) (*ScopeStats, error)
	Close() error
}

// sortResults orders results by similarity descending, breaking ties by
// document ID then chunk index. Deterministic ordering keeps repeated
// searches stable and makes truncation to k reproducible.
func sortResults(rs []SearchResult) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Similarity != rs[j].Similarity {
			return rs[i].Similarity > rs[j].Similarity
		}
		if rs[i].DocumentID != rs[j].DocumentID {
			return rs[i].DocumentID < rs[j].DocumentID
		}
		return rs[i].ChunkIndex < rs[j].ChunkIndex
	})
}

// truncateResults applies the floor and k cap after sorting.
func truncateResults(rs []SearchResult, k int, floor float32) []SearchResult {
	sortResults(rs)
	kept := rs[:0]
	for _, r := range rs {
		if r.Similarity >= floor {
			kept = append(kept, r)
		}
	}
	if len(kept) > k {
		kept = kept[:k]
	}
	return kept
}
