package embeddings

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticProvider(t *testing.T) {
	ctx := context.Background()
	p := NewStaticProvider(64)

	t.Run("identical texts map to identical vectors", func(t *testing.T) {
		a, err := p.EmbedQuery(ctx, "vacation policy")
		require.NoError(t, err)
		b, err := p.EmbedQuery(ctx, "vacation policy")
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("distinct texts map to distinct vectors", func(t *testing.T) {
		a, err := p.EmbedQuery(ctx, "vacation policy")
		require.NoError(t, err)
		b, err := p.EmbedQuery(ctx, "expense reports")
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("vectors are unit length", func(t *testing.T) {
		v, err := p.EmbedQuery(ctx, "some text")
		require.NoError(t, err)
		require.Len(t, v, 64)

		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 0.0001)
	})

	t.Run("batches keep input order", func(t *testing.T) {
		vectors, err := p.EmbedDocuments(ctx, []string{"first", "second"})
		require.NoError(t, err)
		require.Len(t, vectors, 2)

		first, err := p.EmbedQuery(ctx, "first")
		require.NoError(t, err)
		assert.Equal(t, first, vectors[0])
	})

	t.Run("empty batch is rejected", func(t *testing.T) {
		_, err := p.EmbedDocuments(ctx, nil)
		assert.ErrorIs(t, err, ErrEmptyInput)
	})

	t.Run("non-positive dimension falls back", func(t *testing.T) {
		assert.Equal(t, 384, NewStaticProvider(0).Dimension())
	})
}
