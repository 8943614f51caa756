package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestStatusStoreRoundTrip(t *testing.T) {
	s := statusStore{dir: t.TempDir()}

	st := Status{
		DocID:  "doc_1",
		State:  StateCompleted,
		Counts: Counts{Files: 2, Chunks: 7, VectorsBefore: 3, VectorsAfter: 8, VectorsAdded: 5},
		Errors: []string{"one thing went wrong"},
	}
	if err := s.write(st); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, ok := s.read("doc_1")
	if !ok {
		t.Fatal("read returned ok=false for a written record")
	}
	if got.State != StateCompleted {
		t.Errorf("state = %q, want %q", got.State, StateCompleted)
	}
	if got.Counts != st.Counts {
		t.Errorf("counts = %+v, want %+v", got.Counts, st.Counts)
	}
	if len(got.Errors) != 1 {
		t.Errorf("errors = %v, want one entry", got.Errors)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("write did not stamp UpdatedAt")
	}
}

func TestStatusStoreCapsErrors(t *testing.T) {
	s := statusStore{dir: t.TempDir()}

	errs := make([]string, MaxStatusErrors+5)
	for i := range errs {
		errs[i] = fmt.Sprintf("error %d", i)
	}
	if err := s.write(Status{DocID: "doc_errs", State: StateCompletedWithErrors, Errors: errs}); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, ok := s.read("doc_errs")
	if !ok {
		t.Fatal("read failed")
	}
	if len(got.Errors) != MaxStatusErrors {
		t.Fatalf("errors kept = %d, want %d", len(got.Errors), MaxStatusErrors)
	}
	// The most recent errors survive, not the earliest.
	if got.Errors[len(got.Errors)-1] != fmt.Sprintf("error %d", MaxStatusErrors+4) {
		t.Errorf("last error = %q, want the newest entry", got.Errors[len(got.Errors)-1])
	}
}

func TestStatusStoreMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	s := statusStore{dir: dir}

	if _, ok := s.read("doc_absent"); ok {
		t.Error("read of a missing record should return ok=false")
	}

	if err := os.WriteFile(filepath.Join(dir, "doc_bad.json"), []byte("{not json"), 0o640); err != nil {
		t.Fatalf("writing corrupt record: %v", err)
	}
	if _, ok := s.read("doc_bad"); ok {
		t.Error("read of a corrupt record should return ok=false")
	}
}

func TestStatusStoreRejectsPathEscapes(t *testing.T) {
	s := statusStore{dir: t.TempDir()}

	for _, id := range []string{"", "../escape", "a/b", `a\b`} {
		if err := s.write(Status{DocID: id, State: StateUploaded}); err == nil {
			t.Errorf("write accepted invalid doc id %q", id)
		}
		if _, ok := s.read(id); ok {
			t.Errorf("read accepted invalid doc id %q", id)
		}
	}
}
