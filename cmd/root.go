// Package cmd provides the lore CLI.
//
// Commands:
//   - ingest: upload files as a document and index them
//   - ask: answer a question against the indexed documents
//   - status: show the ingestion status of a document
//   - docs: list and delete documents
//   - feedback: record a thumb on a stored answer trace
//   - stats: show index and embedding counters
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/koopa0/lore/internal/app"
	"github.com/koopa0/lore/internal/config"
	"github.com/koopa0/lore/internal/database"
	"github.com/koopa0/lore/internal/log"
	"github.com/koopa0/lore/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "lore",
	Short: "Lore - retrieval-augmented answers over your own documents",
	Long: `Lore ingests plain-text documents, indexes them as embedding vectors,
and answers questions grounded in the retrieved passages, with every
answer backed by an inspectable trace.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(log.New(log.Config{Level: level}))
	return rootCmd.Execute()
}

// newApp loads configuration and assembles the full application. The
// returned App must be closed by the caller.
func newApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return app.New(ctx, cfg, slog.Default())
}

// openStore opens just the record store for commands that need the
// database but not the model stack. The returned cleanup closes the pool.
func openStore(ctx context.Context) (*store.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	pool, err := database.Connect(ctx, cfg.PostgresURL(), cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, err
	}
	records, err := store.New(pool, slog.Default())
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return records, pool.Close, nil
}
