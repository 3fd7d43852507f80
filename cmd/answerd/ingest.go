package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/answerdhq/answerd/internal/ingest"
	"github.com/answerdhq/answerd/internal/vectorstore"
)

var (
	ingestAssistant string
	ingestDocument  string
	ingestChunkSize int
	ingestOverlap   int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Split a text file into chunks and index it for an assistant",
	Long: `Split a text file into chunks and index it for an assistant.

Re-ingesting the same document ID replaces its previous chunks.

Examples:
  # Index a handbook for the support assistant
  answerd ingest --assistant support --document handbook handbook.txt

  # Custom chunking
  answerd ingest --assistant support --document faq --chunk-size 800 --overlap 100 faq.txt`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestAssistant, "assistant", "", "assistant ID to index under (required)")
	ingestCmd.Flags().StringVar(&ingestDocument, "document", "", "document ID (defaults to the file name)")
	ingestCmd.Flags().IntVar(&ingestChunkSize, "chunk-size", ingest.DefaultChunkSize, "maximum chunk size in characters")
	ingestCmd.Flags().IntVar(&ingestOverlap, "overlap", ingest.DefaultOverlap, "characters carried between consecutive chunks")
	_ = ingestCmd.MarkFlagRequired("assistant")
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := args[0]
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	documentID := ingestDocument
	if documentID == "" {
		base := filepath.Base(path)
		documentID = strings.TrimSuffix(base, filepath.Ext(base))
	}

	pieces := ingest.Split(string(content), ingestChunkSize, ingestOverlap)
	if len(pieces) == 0 {
		return fmt.Errorf("%s contains no indexable text", path)
	}

	chunks := make([]vectorstore.Chunk, len(pieces))
	for i, text := range pieces {
		chunks[i] = vectorstore.Chunk{
			Index: i,
			Text:  text,
			Metadata: vectorstore.Metadata{
				"source": vectorstore.MetaString(filepath.Base(path)),
			},
		}
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.vectors.Upsert(cmd.Context(), ingestAssistant, documentID, chunks); err != nil {
		return fmt.Errorf("indexing %s: %w", documentID, err)
	}

	a.logger.Info("document indexed",
		zap.String("assistant_id", ingestAssistant),
		zap.String("document_id", documentID),
		zap.Int("chunks", len(chunks)),
	)
	fmt.Printf("Indexed %s as %q for assistant %q (%d chunks)\n", path, documentID, ingestAssistant, len(chunks))
	return nil
}
