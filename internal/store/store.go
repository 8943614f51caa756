// Package store persists the engine's durable records in PostgreSQL:
// documents, parent/child chunks, embedding rows (pgvector), query traces,
// and feedback.
//
// The query-time read path goes through the in-process vector index, not
// this package; the rows here are the durable source the index artifacts
// can always be rebuilt from, plus the parent-chunk fetch surface the
// orchestrator reads during a query.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// querier is the common interface satisfied by both *pgxpool.Pool and
// pgx.Tx. Store runs all SQL through it, so any method can later execute
// inside a transaction without changing its body.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Document is one uploaded document. Immutable after creation except for
// metadata enrichment.
type Document struct {
	ID        string            `json:"id"`
	Filename  string            `json:"filename"`
	Owner     string            `json:"owner"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Chunk is one chunker output row. Parent chunks carry an empty ParentID;
// child chunks reference the parent produced in the same chunking pass.
// Chunks are never mutated and are deleted only by document cascade.
type Chunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	ParentID   string            `json:"parent_id,omitempty"`
	Content    string            `json:"content"`
	Position   int               `json:"position"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// chunkCols is the standard SELECT column list for scanChunks.
const chunkCols = `id, document_id, COALESCE(parent_id, ''), content, position, metadata, created_at`

// Store manages the engine's relational records.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     querier
	logger *slog.Logger
}

// New creates a Store.
func New(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: pool, logger: logger}, nil
}

// CreateDocument inserts a document record.
func (s *Store) CreateDocument(ctx context.Context, d Document) error {
	if d.ID == "" {
		return fmt.Errorf("document id is required")
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO documents (id, filename, owner, metadata)
		 VALUES ($1, $2, $3, $4)`,
		d.ID, d.Filename, d.Owner, metadataOrEmpty(d.Metadata),
	)
	if err != nil {
		return fmt.Errorf("inserting document %s: %w", d.ID, err)
	}
	return nil
}

// Document returns the document with the given id, or ErrNotFound.
func (s *Store) Document(ctx context.Context, id string) (Document, error) {
	var d Document
	err := s.db.QueryRow(ctx,
		`SELECT id, filename, owner, metadata, created_at
		 FROM documents WHERE id = $1`,
		id,
	).Scan(&d.ID, &d.Filename, &d.Owner, &d.Metadata, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("querying document %s: %w", id, err)
	}
	return d, nil
}

// ListDocuments returns all documents, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, filename, owner, metadata, created_at
		 FROM documents ORDER BY created_at DESC, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Filename, &d.Owner, &d.Metadata, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// CountDocuments returns the number of document records.
func (s *Store) CountDocuments(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return count, nil
}

// DeleteDocument removes a document; chunks and embeddings cascade.
// Returns ErrNotFound when no such document exists.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

// StoreChunks inserts chunk records in one batch. Re-inserting an existing
// chunk id is idempotent: chunks are immutable, so conflicts are ignored.
func (s *Store) StoreChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		if c.ID == "" {
			return fmt.Errorf("chunk id is required")
		}
		batch.Queue(
			`INSERT INTO chunks (id, document_id, parent_id, content, position, metadata)
			 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
			 ON CONFLICT (id) DO NOTHING`,
			c.ID, c.DocumentID, c.ParentID, c.Content, c.Position, metadataOrEmpty(c.Metadata),
		)
	}

	res := s.db.SendBatch(ctx, batch)
	defer func() {
		if closeErr := res.Close(); closeErr != nil {
			s.logger.Debug("closing chunk batch", "error", closeErr)
		}
	}()

	for range chunks {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("inserting chunks: %w", err)
		}
	}
	return nil
}

// FetchParents returns the parent chunks among ids, keyed by id. Missing
// ids are simply absent from the result; partial results are valid.
func (s *Store) FetchParents(ctx context.Context, ids []string) (map[string]Chunk, error) {
	if len(ids) == 0 {
		return map[string]Chunk{}, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+chunkCols+`
		 FROM chunks WHERE id = ANY($1) AND parent_id IS NULL`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("fetching parent chunks: %w", err)
	}
	defer rows.Close()

	chunks, err := scanChunks(rows)
	if err != nil {
		return nil, err
	}

	parents := make(map[string]Chunk, len(chunks))
	for _, c := range chunks {
		parents[c.ID] = c
	}
	return parents, nil
}

// FetchChunks returns the chunks among ids in the order the ids were given,
// skipping ids that do not exist.
func (s *Store) FetchChunks(ctx context.Context, ids []string) ([]Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+chunkCols+` FROM chunks WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("fetching chunks: %w", err)
	}
	defer rows.Close()

	chunks, err := scanChunks(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	ordered := make([]Chunk, 0, len(chunks))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			ordered = append(ordered, c)
		}
	}
	return ordered, nil
}

// UpsertEmbedding stores the durable copy of a chunk's vector. Re-ingesting
// a chunk replaces its vector in place.
func (s *Store) UpsertEmbedding(ctx context.Context, chunkID string, vector []float32) error {
	if chunkID == "" {
		return fmt.Errorf("chunk id is required")
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO embeddings (chunk_id, embedding)
		 VALUES ($1, $2)
		 ON CONFLICT (chunk_id) DO UPDATE SET embedding = EXCLUDED.embedding`,
		chunkID, pgvector.NewVector(vector),
	)
	if err != nil {
		return fmt.Errorf("upserting embedding for chunk %s: %w", chunkID, err)
	}
	return nil
}

// scanChunks reads Chunk structs from pgx.Rows (standard column set).
func scanChunks(rows pgx.Rows) ([]Chunk, error) {
	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(
			&c.ID, &c.DocumentID, &c.ParentID, &c.Content,
			&c.Position, &c.Metadata, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return chunks, nil
}

// metadataOrEmpty keeps jsonb columns non-null for open metadata maps.
func metadataOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
