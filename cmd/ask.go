package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sage0/sage/internal/app"
	"github.com/sage0/sage/internal/config"
	"github.com/sage0/sage/internal/retrieval"
)

var (
	askDetailed bool
	askUserID   string
	askSession  string
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question against the knowledge base",
	Long: `Ask answers a question using the ingested knowledge base plus any
memories stored for the user. Quick mode (the default) runs a single
diversified search; --detailed first decomposes the question into
sub-queries and searches each one.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askDetailed, "detailed", false, "decompose the question into sub-queries before searching")
	askCmd.Flags().StringVar(&askUserID, "user", "local", "user identifier for memory scoping")
	askCmd.Flags().StringVar(&askSession, "session", "default", "session identifier for memory scoping")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
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

	question := strings.Join(args, " ")

	var res *retrieval.Result
	if askDetailed {
		res, err = a.Engine.AnswerDetailed(ctx, question, askUserID, askSession, nil, nil)
	} else {
		res, err = a.Engine.AnswerQuick(ctx, question, askUserID, askSession, nil)
	}
	if err != nil {
		return err
	}

	fmt.Println(res.Answer.Answer)

	if len(res.Answer.ChunkIndices) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for _, i := range res.Answer.ChunkIndices {
			if i < 0 || i >= len(res.Knowledge) {
				continue
			}
			item := res.Knowledge[i]
			source := ""
			if s, ok := item.Metadata["source"].(string); ok {
				source = " (" + s + ")"
			}
			fmt.Printf("  [%d]%s %s\n", i, source, firstLine(item.Text))
		}
	}

	fmt.Printf("\nTokens: %d in, %d out, %d total\n",
		res.Usage.InputTokens, res.Usage.OutputTokens, res.Usage.TotalTokens)
	return nil
}

// firstLine trims a chunk to a single display line.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 100
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
