package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsAssistant string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the corpus footprint of an assistant",
	Long: `Show the corpus footprint of an assistant.

Reports how many documents and chunks are indexed under the assistant's
scope and their total content size.

Examples:
  answerd stats --assistant support`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsAssistant, "assistant", "", "assistant ID to inspect (required)")
	_ = statsCmd.MarkFlagRequired("assistant")
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.vectors.Stats(cmd.Context(), statsAssistant)
	if err != nil {
		return fmt.Errorf("reading stats: %w", err)
	}

	fmt.Printf("Assistant:  %s\n", statsAssistant)
	fmt.Printf("Documents:  %d\n", stats.DocumentCount)
	fmt.Printf("Chunks:     %d\n", stats.ChunkCount)
	fmt.Printf("Total size: %d bytes\n", stats.TotalBytes)
	return nil
}
