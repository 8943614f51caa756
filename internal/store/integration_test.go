//go:build integration
// +build integration

package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/koopa0/lore/internal/testutil"
)

// TestStoreRoundTrip exercises the full record lifecycle against a real
// PostgreSQL instance: documents, chunks, embeddings, traces, feedback,
// and the cascade delete tying them together.
func TestStoreRoundTrip(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	s, err := New(db.Pool, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	doc := Document{
		ID:       "doc_roundtrip",
		Filename: "notes.txt",
		Owner:    "alice",
		Metadata: map[string]string{"source": "upload"},
	}
	if err := s.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	t.Run("document fetch and list", func(t *testing.T) {
		got, err := s.Document(ctx, doc.ID)
		if err != nil {
			t.Fatalf("Document: %v", err)
		}
		if got.Filename != doc.Filename || got.Owner != doc.Owner {
			t.Errorf("Document = %+v, want filename=%q owner=%q", got, doc.Filename, doc.Owner)
		}
		if got.Metadata["source"] != "upload" {
			t.Errorf("Metadata = %v, want source=upload", got.Metadata)
		}

		docs, err := s.ListDocuments(ctx)
		if err != nil {
			t.Fatalf("ListDocuments: %v", err)
		}
		if len(docs) != 1 {
			t.Fatalf("ListDocuments returned %d documents, want 1", len(docs))
		}

		count, err := s.CountDocuments(ctx)
		if err != nil {
			t.Fatalf("CountDocuments: %v", err)
		}
		if count != 1 {
			t.Errorf("CountDocuments = %d, want 1", count)
		}
	})

	t.Run("unknown document", func(t *testing.T) {
		if _, err := s.Document(ctx, "doc_missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Document(missing) = %v, want ErrNotFound", err)
		}
	})

	chunks := []Chunk{
		{ID: "parent_1", DocumentID: doc.ID, Content: "parent window one", Position: 0,
			Metadata: map[string]string{"title": "notes.txt"}},
		{ID: "parent_2", DocumentID: doc.ID, Content: "parent window two", Position: 1},
		{ID: "child_1", DocumentID: doc.ID, ParentID: "parent_1", Content: "first sentence", Position: 0},
		{ID: "child_2", DocumentID: doc.ID, ParentID: "parent_2", Content: "second sentence", Position: 1},
	}
	if err := s.StoreChunks(ctx, chunks); err != nil {
		t.Fatalf("StoreChunks: %v", err)
	}

	t.Run("chunk insert is idempotent", func(t *testing.T) {
		if err := s.StoreChunks(ctx, chunks[:1]); err != nil {
			t.Fatalf("re-inserting chunks: %v", err)
		}
	})

	t.Run("fetch parents is partial", func(t *testing.T) {
		// child_1 is not a parent, parent_missing does not exist: both are
		// silently absent from the result.
		parents, err := s.FetchParents(ctx, []string{"parent_1", "child_1", "parent_missing"})
		if err != nil {
			t.Fatalf("FetchParents: %v", err)
		}
		if len(parents) != 1 {
			t.Fatalf("FetchParents returned %d parents, want 1", len(parents))
		}
		if parents["parent_1"].Content != "parent window one" {
			t.Errorf("parent_1 content = %q", parents["parent_1"].Content)
		}
	})

	t.Run("fetch chunks preserves input order", func(t *testing.T) {
		got, err := s.FetchChunks(ctx, []string{"parent_2", "child_1", "nope", "parent_1"})
		if err != nil {
			t.Fatalf("FetchChunks: %v", err)
		}
		want := []string{"parent_2", "child_1", "parent_1"}
		if len(got) != len(want) {
			t.Fatalf("FetchChunks returned %d chunks, want %d", len(got), len(want))
		}
		for i, id := range want {
			if got[i].ID != id {
				t.Errorf("FetchChunks[%d].ID = %q, want %q", i, got[i].ID, id)
			}
		}
	})

	t.Run("embedding upsert", func(t *testing.T) {
		vec := make([]float32, 768)
		vec[0] = 1
		if err := s.UpsertEmbedding(ctx, "child_1", vec); err != nil {
			t.Fatalf("UpsertEmbedding: %v", err)
		}
		// Re-upsert replaces in place without a conflict error.
		vec[1] = 1
		if err := s.UpsertEmbedding(ctx, "child_1", vec); err != nil {
			t.Fatalf("re-upserting embedding: %v", err)
		}

		var count int
		if err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&count); err != nil {
			t.Fatalf("counting embeddings: %v", err)
		}
		if count != 1 {
			t.Errorf("embeddings count = %d, want 1", count)
		}
	})

	t.Run("trace and feedback", func(t *testing.T) {
		payload := map[string]any{"query": "what is in my notes?", "confidence": 0.8}
		if err := s.SaveTrace(ctx, "trace_1", payload); err != nil {
			t.Fatalf("SaveTrace: %v", err)
		}

		raw, err := s.Trace(ctx, "trace_1")
		if err != nil {
			t.Fatalf("Trace: %v", err)
		}
		var got map[string]any
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("decoding trace payload: %v", err)
		}
		if got["query"] != "what is in my notes?" {
			t.Errorf("trace query = %v", got["query"])
		}

		if _, err := s.Trace(ctx, "trace_missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Trace(missing) = %v, want ErrNotFound", err)
		}

		if err := s.AddFeedback(ctx, "trace_1", ThumbUp, "good answer"); err != nil {
			t.Fatalf("AddFeedback: %v", err)
		}
		if err := s.AddFeedback(ctx, "trace_missing", ThumbDown, ""); !errors.Is(err, ErrNotFound) {
			t.Errorf("AddFeedback(missing trace) = %v, want ErrNotFound", err)
		}
	})

	t.Run("cascade delete", func(t *testing.T) {
		if err := s.DeleteDocument(ctx, doc.ID); err != nil {
			t.Fatalf("DeleteDocument: %v", err)
		}
		if err := s.DeleteDocument(ctx, doc.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("second DeleteDocument = %v, want ErrNotFound", err)
		}

		for _, table := range []string{"chunks", "embeddings"} {
			var count int
			if err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count); err != nil {
				t.Fatalf("counting %s: %v", table, err)
			}
			if count != 0 {
				t.Errorf("%s count after cascade = %d, want 0", table, count)
			}
		}
	})
}
