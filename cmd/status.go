package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koopa0/lore/internal/config"
	"github.com/koopa0/lore/internal/ingest"
)

var statusCmd = &cobra.Command{
	Use:   "status [doc_id]",
	Short: "Show the ingestion status of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	st, ok := ingest.ReadStatus(cfg.StatusDir(), args[0])
	if !ok {
		fmt.Printf("State: %s\n", ingest.StateUnknown)
		return nil
	}
	printStatus(st)
	fmt.Printf("Updated: %s\n", st.UpdatedAt.Format("2006-01-02 15:04:05"))
	return nil
}
