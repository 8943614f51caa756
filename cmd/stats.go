package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index and embedding counters",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	stats, err := a.Engine.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Documents: %d\n", stats.Documents)
	fmt.Printf("Vectors:   %d\n", stats.Vectors)
	fmt.Printf("Embedding calls today (%s): %d\n", stats.Embedder.Day, stats.Embedder.RemoteCalls)
	fmt.Printf("Fallback embeddings: %d\n", stats.Embedder.FallbackCalls)
	if !stats.Embedder.CooldownUntil.IsZero() {
		fmt.Printf("Quota cool-down until: %s\n", stats.Embedder.CooldownUntil.Format("2006-01-02 15:04:05"))
	}
	return nil
}
