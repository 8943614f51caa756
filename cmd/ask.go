package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/koopa0/lore/internal/rag"
)

var (
	askTopK    int
	askOwner   string
	askDocs    []string
	askPreview bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question against the indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().IntVar(&askTopK, "top-k", 0, "number of sources to use (0 = configured default)")
	askCmd.Flags().StringVar(&askOwner, "owner", "", "restrict retrieval to documents of this owner")
	askCmd.Flags().StringSliceVar(&askDocs, "doc", nil, "restrict retrieval to these document ids (repeatable)")
	askCmd.Flags().BoolVar(&askPreview, "preview", false, "show the assembled prompt instead of generating an answer")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	resp, err := a.Engine.Query(ctx, rag.Request{
		Query:   strings.Join(args, " "),
		TopK:    askTopK,
		Filter:  rag.Filter{Owner: askOwner, DocumentIDs: askDocs},
		Preview: askPreview,
	})
	if err != nil {
		return err
	}

	fmt.Println(resp.Answer)
	if len(resp.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for i, s := range resp.Sources {
			fmt.Printf("  %d. %s (%s, score %.3f)\n", i+1, s.Title, s.ID, s.Score)
		}
		fmt.Printf("Confidence: %.2f\n", resp.Confidence)
	}
	if resp.TraceID != "" {
		fmt.Printf("Trace: %s\n", resp.TraceID)
	}
	return nil
}
