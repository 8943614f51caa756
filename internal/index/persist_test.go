package index

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPersistLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	idx, err := NewLinear(dir, 3, testLogger())
	if err != nil {
		t.Fatalf("NewLinear() error: %v", err)
	}

	entries := []struct {
		id   string
		vec  []float32
		meta map[string]string
	}{
		{"child_a", []float32{1, 0, 0}, map[string]string{MetaOwner: "alice", MetaParentID: "parent_x"}},
		{"child_b", []float32{0, 1, 0}, map[string]string{MetaOwner: "bob"}},
		{"child_c", []float32{0.5, 0.5, 0}, nil},
	}
	for _, e := range entries {
		if err := idx.Add(e.id, e.vec, e.meta); err != nil {
			t.Fatalf("Add(%s) error: %v", e.id, err)
		}
	}

	if err := idx.Persist(); err != nil {
		t.Fatalf("Persist() error: %v", err)
	}

	// Both artifacts must exist.
	for _, name := range []string{vectorsFile, sidecarFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("artifact %s missing after Persist: %v", name, err)
		}
	}

	// A fresh index over the same directory sees the same contents.
	restored, err := NewLinear(dir, 3, testLogger())
	if err != nil {
		t.Fatalf("NewLinear() error: %v", err)
	}
	if err := restored.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if restored.Count() != len(entries) {
		t.Fatalf("Count() after load = %d, want %d", restored.Count(), len(entries))
	}

	for _, e := range entries {
		matches, err := restored.Search(e.vec, 1)
		if err != nil {
			t.Fatalf("Search() error: %v", err)
		}
		if len(matches) != 1 || matches[0].ID != e.id {
			t.Errorf("Search(%s) after load = %+v", e.id, matches)
		}
	}

	if got := restored.Metadata("child_a"); got[MetaOwner] != "alice" || got[MetaParentID] != "parent_x" {
		t.Errorf("Metadata(child_a) after load = %v", got)
	}
}

func TestLoad_MissingArtifacts(t *testing.T) {
	idx, err := NewLinear(t.TempDir(), 3, testLogger())
	if err != nil {
		t.Fatalf("NewLinear() error: %v", err)
	}

	if err := idx.Load(); err != nil {
		t.Fatalf("Load() with no artifacts error: %v", err)
	}
	if idx.Count() != 0 {
		t.Errorf("Count() = %d, want 0", idx.Count())
	}
}

func TestLoad_ResetsExistingEntries(t *testing.T) {
	idx, err := NewLinear(t.TempDir(), 2, testLogger())
	if err != nil {
		t.Fatalf("NewLinear() error: %v", err)
	}
	if err := idx.Add("stale", []float32{1, 0}, nil); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	if err := idx.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if idx.Count() != 0 {
		t.Errorf("Count() = %d after loading empty directory, want 0", idx.Count())
	}
}

func TestLoad_CorruptSidecar(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, sidecarFile), []byte("{not json"), 0o640); err != nil {
		t.Fatalf("writing corrupt sidecar: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, vectorsFile), []byte{1, 2, 3, 4}, 0o640); err != nil {
		t.Fatalf("writing blob: %v", err)
	}

	idx, err := NewLinear(dir, 2, testLogger())
	if err != nil {
		t.Fatalf("NewLinear() error: %v", err)
	}
	if err := idx.Load(); err != nil {
		t.Fatalf("Load() with corrupt sidecar error: %v", err)
	}
	if idx.Count() != 0 {
		t.Errorf("Count() = %d, want 0", idx.Count())
	}
}

func TestLoad_InconsistentBlob(t *testing.T) {
	dir := t.TempDir()

	idx, err := NewLinear(dir, 2, testLogger())
	if err != nil {
		t.Fatalf("NewLinear() error: %v", err)
	}
	if err := idx.Add("a", []float32{1, 0}, nil); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := idx.Persist(); err != nil {
		t.Fatalf("Persist() error: %v", err)
	}

	// Truncate the blob so it no longer matches ids × dim × 4 bytes.
	if err := os.WriteFile(filepath.Join(dir, vectorsFile), []byte{0, 0}, 0o640); err != nil {
		t.Fatalf("truncating blob: %v", err)
	}

	restored, err := NewLinear(dir, 2, testLogger())
	if err != nil {
		t.Fatalf("NewLinear() error: %v", err)
	}
	if err := restored.Load(); err != nil {
		t.Fatalf("Load() with truncated blob error: %v", err)
	}
	if restored.Count() != 0 {
		t.Errorf("Count() = %d, want 0", restored.Count())
	}
}

func TestLoad_DimensionChange(t *testing.T) {
	dir := t.TempDir()

	idx, err := NewLinear(dir, 3, testLogger())
	if err != nil {
		t.Fatalf("NewLinear() error: %v", err)
	}
	if err := idx.Add("a", []float32{1, 0, 0}, nil); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := idx.Persist(); err != nil {
		t.Fatalf("Persist() error: %v", err)
	}

	// Opening the same artifacts with a different dimension starts empty.
	other, err := NewLinear(dir, 4, testLogger())
	if err != nil {
		t.Fatalf("NewLinear() error: %v", err)
	}
	if err := other.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if other.Count() != 0 {
		t.Errorf("Count() = %d after dimension change, want 0", other.Count())
	}
}

func TestPersist_OverwritesPreviousArtifacts(t *testing.T) {
	dir := t.TempDir()

	idx, err := NewLinear(dir, 2, testLogger())
	if err != nil {
		t.Fatalf("NewLinear() error: %v", err)
	}
	if err := idx.Add("a", []float32{1, 0}, nil); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := idx.Persist(); err != nil {
		t.Fatalf("Persist() error: %v", err)
	}

	if err := idx.Add("b", []float32{0, 1}, nil); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := idx.Persist(); err != nil {
		t.Fatalf("second Persist() error: %v", err)
	}

	restored, err := NewLinear(dir, 2, testLogger())
	if err != nil {
		t.Fatalf("NewLinear() error: %v", err)
	}
	if err := restored.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if restored.Count() != 2 {
		t.Errorf("Count() = %d, want 2", restored.Count())
	}
}

func TestPersist_EmptyIndex(t *testing.T) {
	dir := t.TempDir()

	idx, err := NewLinear(dir, 2, testLogger())
	if err != nil {
		t.Fatalf("NewLinear() error: %v", err)
	}
	if err := idx.Persist(); err != nil {
		t.Fatalf("Persist() on empty index error: %v", err)
	}

	restored, err := NewLinear(dir, 2, testLogger())
	if err != nil {
		t.Fatalf("NewLinear() error: %v", err)
	}
	if err := restored.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if restored.Count() != 0 {
		t.Errorf("Count() = %d, want 0", restored.Count())
	}
}
