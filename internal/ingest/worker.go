// Package ingest runs the background ingestion pipeline: a single
// consumer drains a FIFO queue of document ids, and for each one reads
// the raw uploaded files, chunks them, embeds the child chunks, and
// writes the vectors into the index and the record store.
//
// Documents are processed strictly one at a time. The vector index and
// the chunk records are single-writer resources, and this worker is that
// writer; query-time callers only read them. One document's failure never
// stops the loop; it is recorded in the document's status and the worker
// moves on.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/koopa0/lore/internal/chunk"
	"github.com/koopa0/lore/internal/index"
	"github.com/koopa0/lore/internal/store"
)

var (
	// ErrClosed indicates the worker no longer accepts documents.
	ErrClosed = errors.New("ingestion worker is closed")

	// ErrQueueFull indicates the queue rejected part of an Enqueue call.
	ErrQueueFull = errors.New("ingestion queue is full")
)

// DefaultQueueSize is the queue capacity when the configuration does not
// set one.
const DefaultQueueSize = 128

// Embedder maps child chunk texts to vectors. Results are positional:
// index i carries either a vector or an error, never both.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, []error)
}

// Recorder is the slice of the record store the worker writes through.
type Recorder interface {
	Document(ctx context.Context, id string) (store.Document, error)
	StoreChunks(ctx context.Context, chunks []store.Chunk) error
	UpsertEmbedding(ctx context.Context, chunkID string, vector []float32) error
}

// Config wires a Worker.
type Config struct {
	// UploadsDir holds one subdirectory of raw files per document id.
	UploadsDir string

	// StatusDir holds the per-document JSON status records.
	StatusDir string

	// QueueSize caps pending document ids. Values below one fall back to
	// DefaultQueueSize.
	QueueSize int

	Splitter *chunk.Splitter
	Embedder Embedder
	Index    index.Index
	Records  Recorder
	Logger   *slog.Logger
}

// Worker is the single-consumer ingestion task.
//
// Enqueue and Status are safe for concurrent use; the processing itself
// happens on one internal goroutine started by Start.
type Worker struct {
	uploadsDir string
	status     statusStore
	splitter   *chunk.Splitter
	embedder   Embedder
	index      index.Index
	records    Recorder
	logger     *slog.Logger

	mu     sync.Mutex
	queue  chan string
	closed bool

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewWorker creates a Worker. Call Start to begin draining the queue.
func NewWorker(cfg Config) (*Worker, error) {
	if cfg.UploadsDir == "" {
		return nil, fmt.Errorf("uploads directory is required")
	}
	if cfg.StatusDir == "" {
		return nil, fmt.Errorf("status directory is required")
	}
	if cfg.Splitter == nil {
		return nil, fmt.Errorf("splitter is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("index is required")
	}
	if cfg.Records == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Worker{
		uploadsDir: cfg.UploadsDir,
		status:     statusStore{dir: cfg.StatusDir},
		splitter:   cfg.Splitter,
		embedder:   cfg.Embedder,
		index:      cfg.Index,
		records:    cfg.Records,
		logger:     cfg.Logger,
		queue:      make(chan string, cfg.QueueSize),
		done:       make(chan struct{}),
	}, nil
}

// Start launches the consumer goroutine. Calling Start twice is an error.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.started {
		return fmt.Errorf("worker already started")
	}
	w.started = true

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.run(runCtx)
	return nil
}

// Close stops intake, cancels any in-flight drain, and waits for the
// consumer goroutine to exit. Close is idempotent.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	close(w.queue)
	started := w.started
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !started {
		close(w.done)
	}
	<-w.done
}

// Enqueue queues document ids for processing and returns how many were
// accepted. It never blocks: when the queue fills, the remainder is
// rejected and the count comes back with ErrQueueFull. Each id gets a
// fresh uploaded status before it can reach the consumer, which is also
// how a finished document is explicitly re-enqueued; an id rejected by a
// full queue keeps that record and simply needs another Enqueue.
func (w *Worker) Enqueue(docIDs []string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}

	queued := 0
	for _, id := range docIDs {
		if err := validDocID(id); err != nil {
			w.logger.Warn("skipping invalid document id", "doc_id", id, "error", err)
			continue
		}
		// The uploaded record must land before the consumer can see the
		// id: states only ever advance, so a write after the send could
		// revert a status the consumer has already moved past.
		if err := w.status.write(Status{DocID: id, State: StateUploaded}); err != nil {
			w.logger.Warn("writing uploaded status", "doc_id", id, "error", err)
		}
		select {
		case w.queue <- id:
			queued++
		default:
			// The uploaded record stays: the files are in the upload
			// area and the caller re-enqueues the rejected ids.
			return queued, fmt.Errorf("%w: queued %d of %d", ErrQueueFull, queued, len(docIDs))
		}
	}
	return queued, nil
}

// Status returns the current ingestion record for a document. A document
// with no record reports the unknown state.
func (w *Worker) Status(docID string) Status {
	if st, ok := w.status.read(docID); ok {
		return st
	}
	return Status{DocID: docID, State: StateUnknown}
}

// ProcessSync processes one document immediately on the caller's
// goroutine, bypassing the queue. It must not race the background
// consumer; it exists for tests and debugging against a stopped worker.
func (w *Worker) ProcessSync(ctx context.Context, docID string) Status {
	return w.process(ctx, docID)
}

// run drains the queue until it is closed or ctx is canceled.
func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case docID, ok := <-w.queue:
			if !ok {
				return
			}
			st := w.processGuarded(ctx, docID)
			w.logger.Info("document processed",
				"doc_id", docID,
				"status", st.State,
				"files", st.Counts.Files,
				"chunks", st.Counts.Chunks,
				"vectors_added", st.Counts.VectorsAdded,
				"errors", len(st.Errors))
		}
	}
}

// processGuarded wraps process so that a panic marks the document failed
// instead of killing the consumer goroutine.
func (w *Worker) processGuarded(ctx context.Context, docID string) (st Status) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic while processing document", "doc_id", docID, "panic", r)
			st = w.fail(docID, fmt.Sprintf("internal error: %v", r))
		}
	}()
	return w.process(ctx, docID)
}

// process runs the full ingestion pass for one document and returns its
// final status.
func (w *Worker) process(ctx context.Context, docID string) Status {
	st := Status{DocID: docID, State: StateProcessing}
	if err := w.status.write(st); err != nil {
		w.logger.Warn("writing processing status", "doc_id", docID, "error", err)
	}

	dir := filepath.Join(w.uploadsDir, docID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		// The raw-file location itself is gone: nothing to salvage.
		return w.fail(docID, fmt.Sprintf("reading raw files: %v", err))
	}

	doc, err := w.records.Document(ctx, docID)
	if err != nil {
		return w.fail(docID, fmt.Sprintf("loading document record: %v", err))
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	st.Counts.VectorsBefore = w.index.Count()

	for _, name := range files {
		st.Counts.Files++
		w.processFile(ctx, &st, doc, filepath.Join(dir, name), name)
	}

	if err := w.index.Persist(); err != nil {
		st.Errors = append(st.Errors, fmt.Sprintf("persisting index: %v", err))
	}

	st.Counts.VectorsAfter = w.index.Count()
	st.Counts.VectorsAdded = st.Counts.VectorsAfter - st.Counts.VectorsBefore

	st.State = StateCompleted
	if len(st.Errors) > 0 {
		st.State = StateCompletedWithErrors
	}
	if len(st.Errors) > MaxStatusErrors {
		st.Errors = st.Errors[len(st.Errors)-MaxStatusErrors:]
	}
	if err := w.status.write(st); err != nil {
		w.logger.Warn("writing final status", "doc_id", docID, "error", err)
	}
	return st
}

// processFile ingests one raw file. Failures append to the status error
// list and never abort the document.
func (w *Worker) processFile(ctx context.Context, st *Status, doc store.Document, path, name string) {
	data, err := os.ReadFile(path)
	if err != nil {
		st.Errors = append(st.Errors, fmt.Sprintf("%s: reading file: %v", name, err))
		return
	}
	text := string(data)
	if !utf8.ValidString(text) {
		// Permissive decode: replace invalid bytes rather than dropping
		// the file.
		text = strings.ToValidUTF8(text, string(utf8.RuneError))
	}

	parents, children := w.splitter.Split(text, name)
	if len(parents) == 0 {
		return
	}

	rows := make([]store.Chunk, 0, len(parents)+len(children))
	for _, p := range parents {
		rows = append(rows, chunkRow(p, doc))
	}
	for _, c := range children {
		rows = append(rows, chunkRow(c, doc))
	}
	if err := w.records.StoreChunks(ctx, rows); err != nil {
		st.Errors = append(st.Errors, fmt.Sprintf("%s: storing chunks: %v", name, err))
		return
	}
	st.Counts.Chunks += len(rows)

	texts := make([]string, len(children))
	for i, c := range children {
		texts[i] = c.Content
	}
	vectors, errs := w.embedder.EmbedBatch(ctx, texts)

	for i, child := range children {
		if errs[i] != nil {
			st.Errors = append(st.Errors, fmt.Sprintf("%s: embedding chunk %s: %v", name, child.ID, errs[i]))
			continue
		}
		meta := map[string]string{
			index.MetaDocumentID: doc.ID,
			index.MetaParentID:   child.ParentID,
			index.MetaOwner:      doc.Owner,
			index.MetaTitle:      doc.Filename,
		}
		if err := w.index.Add(child.ID, vectors[i], meta); err != nil {
			st.Errors = append(st.Errors, fmt.Sprintf("%s: indexing chunk %s: %v", name, child.ID, err))
			continue
		}
		if err := w.records.UpsertEmbedding(ctx, child.ID, vectors[i]); err != nil {
			st.Errors = append(st.Errors, fmt.Sprintf("%s: recording embedding %s: %v", name, child.ID, err))
		}
	}
}

// fail writes and returns a terminal failed status.
func (w *Worker) fail(docID, reason string) Status {
	st := Status{DocID: docID, State: StateFailed, Errors: []string{reason}}
	if err := w.status.write(st); err != nil {
		w.logger.Warn("writing failed status", "doc_id", docID, "error", err)
	}
	return st
}

// chunkRow converts chunker output into a record-store row.
func chunkRow(c chunk.Chunk, doc store.Document) store.Chunk {
	return store.Chunk{
		ID:         c.ID,
		DocumentID: doc.ID,
		ParentID:   c.ParentID,
		Content:    c.Content,
		Position:   c.Position,
		Metadata: map[string]string{
			"title": doc.Filename,
			"owner": doc.Owner,
		},
	}
}
