package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sage0/sage/internal/app"
	"github.com/sage0/sage/internal/config"
)

var ingestSource string

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Chunk, embed, and index a document",
	Long: `Ingest reads a text or HTML file, splits it into overlapping chunks,
embeds every chunk in one batch, links the chunks into a chain, and
stores them in the knowledge base.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source label stored with each chunk (default: file name)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	path := args[0]
	data, err := os.ReadFile(path) // #nosec G304 -- user-supplied path is the point of the command
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	source := ingestSource
	if source == "" {
		source = filepath.Base(path)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() { _ = a.Close() }()

	chunks, usage, err := a.Pipeline.Ingest(ctx, string(data), source, nil, "")
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", path, err)
	}

	fmt.Printf("Ingested %s: %d chunks\n", source, len(chunks))
	if usage.TotalTokens > 0 {
		fmt.Printf("Extraction tokens: %d\n", usage.TotalTokens)
	}
	return nil
}
