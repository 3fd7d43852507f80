// Package ingest splits raw text into chunks sized for embedding.
package ingest

import (
	"strings"
	"unicode"
)

// Defaults tuned for embedding models with ~8k token windows; chunks
// stay well below that so a retrieved chunk always fits the prompt.
const (
	DefaultChunkSize = 1200
	DefaultOverlap   = 200
)

// Split cuts text into chunks of at most chunkSize runes with overlap
// runes carried between consecutive chunks. Cuts prefer whitespace so
// words are not divided. Empty or whitespace-only input yields nil.
func Split(text string, chunkSize, overlap int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultOverlap
		if overlap >= chunkSize {
			overlap = chunkSize / 4
		}
	}

	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = cutPoint(runes, start, end)
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}

		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// cutPoint walks back from end looking for whitespace to cut at. If
// none exists in the back half of the chunk, the hard limit wins.
func cutPoint(runes []rune, start, end int) int {
	for i := end; i > start+(end-start)/2; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}
