// Answerd is a multi-tenant knowledge retrieval service. It answers
// end-user questions against per-project document corpora, enforcing
// session and quota policy on every request.
//
// Usage:
//
//	# Start the server with defaults
//	answerd serve
//
//	# Ingest a document for an assistant
//	answerd ingest --assistant support --document handbook handbook.txt
//
//	# Inspect an assistant's corpus
//	answerd stats --assistant support
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

// configPath is the --config flag shared by every subcommand.
var configPath string

func main() {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "answerd",
	Short: "Multi-tenant knowledge retrieval service",
	Long: `answerd serves question answering over per-project document corpora.

Each project defines its own corpus, allowed origins, session lifetime
and request quotas. Widget clients open sessions and send messages
through the public HTTP API; owners manage projects and documents
through the admin API or this CLI.`,
	Version: version + " (" + gitCommit + ")",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.config/answerd/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(keysCmd)
}
