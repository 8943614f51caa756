package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/koopa0/lore/internal/store"
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback [trace_id] [up|down] [comment]...",
	Short: "Record a thumb on a stored answer trace",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runFeedback,
}

func init() {
	rootCmd.AddCommand(feedbackCmd)
}

func runFeedback(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	records, closePool, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closePool()

	traceID := args[0]
	var thumb string
	switch args[1] {
	case "up":
		thumb = store.ThumbUp
	case "down":
		thumb = store.ThumbDown
	default:
		return fmt.Errorf("thumb must be up or down, got %q", args[1])
	}

	if err := records.AddFeedback(ctx, traceID, thumb, strings.Join(args[2:], " ")); err != nil {
		return err
	}
	fmt.Printf("Recorded %s on %s\n", args[1], traceID)
	return nil
}
