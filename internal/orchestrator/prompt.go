package orchestrator

import (
	"fmt"
	"strings"

	"github.com/answerdhq/answerd/internal/vectorstore"
)

// defaultInstructions applies when a project carries no instructions
// of its own.
const defaultInstructions = "You are a helpful AI assistant. Use the provided documents to answer questions accurately and helpfully."

// buildPrompt assembles the generation prompt. With retrieved context
// the chunks are joined into a Context block; without, the block is
// omitted entirely so the model is not steered by an empty section.
func buildPrompt(instructions, question string, chunks []vectorstore.SearchResult) string {
	if instructions == "" {
		instructions = defaultInstructions
	}

	if len(chunks) == 0 {
		return fmt.Sprintf("%s\n\nQuestion: %s\n\nAnswer:", instructions, question)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	context := strings.Join(texts, "\n\n")
	return fmt.Sprintf("%s\n\nContext:\n%s\n\nQuestion: %s\n\nAnswer:", instructions, context, question)
}
