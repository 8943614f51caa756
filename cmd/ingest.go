package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/koopa0/lore/internal/ingest"
	"github.com/koopa0/lore/internal/store"
)

var (
	ingestOwner string
	ingestTitle string
)

// statusPollInterval paces the wait loop after enqueueing.
const statusPollInterval = 200 * time.Millisecond

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]...",
	Short: "Upload files as one document and index them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestOwner, "owner", "local", "owner recorded on the document")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title (defaults to the first file name)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	docID := newDocID()
	title := ingestTitle
	if title == "" {
		title = filepath.Base(args[0])
	}

	docDir := filepath.Join(a.Config.UploadsDir(), docID)
	if err := os.MkdirAll(docDir, 0o750); err != nil {
		return fmt.Errorf("creating upload directory: %w", err)
	}
	var g errgroup.Group
	for _, src := range args {
		g.Go(func() error {
			if err := copyFile(src, filepath.Join(docDir, filepath.Base(src))); err != nil {
				return fmt.Errorf("copying %s: %w", src, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := a.Store.CreateDocument(ctx, store.Document{
		ID:       docID,
		Filename: title,
		Owner:    ingestOwner,
		Metadata: map[string]string{"title": title},
	}); err != nil {
		return fmt.Errorf("creating document record: %w", err)
	}

	if _, err := a.Worker.Enqueue([]string{docID}); err != nil {
		return fmt.Errorf("enqueueing document: %w", err)
	}
	fmt.Printf("Document %s queued (%d files)\n", docID, len(args))

	st := waitForCompletion(ctx, a.Worker, docID)
	printStatus(st)
	if st.State == ingest.StateFailed {
		return fmt.Errorf("ingestion failed")
	}
	return nil
}

// waitForCompletion polls the worker until the document reaches a
// terminal state or the context ends.
func waitForCompletion(ctx context.Context, w *ingest.Worker, docID string) ingest.Status {
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()
	for {
		st := w.Status(docID)
		switch st.State {
		case ingest.StateCompleted, ingest.StateCompletedWithErrors, ingest.StateFailed:
			return st
		}
		select {
		case <-ctx.Done():
			return w.Status(docID)
		case <-ticker.C:
		}
	}
}

func printStatus(st ingest.Status) {
	fmt.Printf("State: %s\n", st.State)
	fmt.Printf("Files: %d  Chunks: %d  Vectors added: %d\n",
		st.Counts.Files, st.Counts.Chunks, st.Counts.VectorsAdded)
	for _, e := range st.Errors {
		fmt.Printf("  error: %s\n", e)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func newDocID() string {
	u := uuid.New()
	return "doc_" + hex.EncodeToString(u[:])
}
