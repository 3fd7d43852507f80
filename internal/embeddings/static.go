package embeddings

import (
	"context"
	"hash/fnv"
	"math"
)

// StaticProvider produces deterministic embeddings derived from the
// input text. It needs no network and is used for development and
// tests; identical texts always map to identical vectors.
type StaticProvider struct {
	dim int
}

// NewStaticProvider creates a deterministic provider with the given
// dimensionality.
func NewStaticProvider(dim int) *StaticProvider {
	if dim <= 0 {
		dim = 384
	}
	return &StaticProvider{dim: dim}
}

// EmbedDocuments generates one deterministic embedding per input text.
func (p *StaticProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = p.embed(text)
	}
	return vectors, nil
}

// EmbedQuery generates a deterministic embedding for a single query.
func (p *StaticProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.embed(text), nil
}

// Dimension returns the embedding dimension.
func (p *StaticProvider) Dimension() int {
	return p.dim
}

// Close releases resources held by the provider.
func (p *StaticProvider) Close() error {
	return nil
}

// embed hashes the text into a unit vector. A seeded sine walk spreads
// values over the dimensions so distinct texts rarely collide.
func (p *StaticProvider) embed(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := float64(h.Sum64() % 100003)

	v := make([]float32, p.dim)
	for i := range v {
		v[i] = float32(math.Sin(seed + float64(i)*1.618))
	}
	l2normalize(v)
	return v
}

// Ensure StaticProvider implements Provider.
var _ Provider = (*StaticProvider)(nil)
