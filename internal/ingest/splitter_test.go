package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	t.Run("short text is one chunk", func(t *testing.T) {
		chunks := Split("a short document", 100, 10)
		require.Len(t, chunks, 1)
		assert.Equal(t, "a short document", chunks[0])
	})

	t.Run("empty input yields nil", func(t *testing.T) {
		assert.Nil(t, Split("", 100, 10))
		assert.Nil(t, Split("   \n\t  ", 100, 10))
	})

	t.Run("long text is split with overlap", func(t *testing.T) {
		words := strings.Repeat("word ", 200)
		chunks := Split(words, 100, 20)
		require.Greater(t, len(chunks), 1)

		for _, c := range chunks {
			assert.LessOrEqual(t, len([]rune(c)), 100)
			assert.NotEmpty(t, c)
		}

		// Consecutive chunks share overlapping text.
		tail := chunks[0][len(chunks[0])-10:]
		assert.Contains(t, chunks[1], strings.TrimSpace(tail))
	})

	t.Run("prefers whitespace cuts", func(t *testing.T) {
		text := strings.Repeat("alpha beta gamma ", 50)
		for _, c := range Split(text, 64, 8) {
			assert.False(t, strings.HasSuffix(c, "alph"), "chunk split mid-word: %q", c)
		}
	})

	t.Run("unbroken run falls back to hard cut", func(t *testing.T) {
		text := strings.Repeat("x", 500)
		chunks := Split(text, 100, 10)
		require.Greater(t, len(chunks), 1)
		assert.Equal(t, 100, len(chunks[0]))
	})

	t.Run("invalid sizes fall back to defaults", func(t *testing.T) {
		chunks := Split("some text", 0, -5)
		require.Len(t, chunks, 1)
	})
}
