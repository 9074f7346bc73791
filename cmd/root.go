// Package cmd provides the sage CLI commands.
//
// Commands:
//   - ask: answer a question against the knowledge base
//   - ingest: chunk, embed, and index a document
//   - migrate: apply database migrations
//   - version: show version information
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sage0/sage/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "sage",
	Short: "sage - retrieval-augmented question answering",
	Long: `sage answers questions by combining a knowledge base of ingested
documents, long-term memories about the user, and conversation history,
then asking a language model for a grounded answer with citations.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if os.Getenv("DEBUG") != "" {
			level = slog.LevelDebug
		}
		slog.SetDefault(log.New(log.Config{Level: level}))
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
