package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// State is the lifecycle state of a document's ingestion.
type State string

// Document ingestion states. Transitions move strictly forward
// (uploaded → processing → completed/completed_with_errors/failed);
// only an explicit re-enqueue resets a finished document to uploaded.
const (
	StateUploaded            State = "uploaded"
	StateProcessing          State = "processing"
	StateCompleted           State = "completed"
	StateCompletedWithErrors State = "completed_with_errors"
	StateFailed              State = "failed"
	StateUnknown             State = "unknown"
)

// MaxStatusErrors caps the error list on a status record to the most
// recent entries.
const MaxStatusErrors = 10

// Counts summarizes what one ingestion pass produced.
type Counts struct {
	Files         int `json:"files"`
	Chunks        int `json:"chunks"`
	VectorsBefore int `json:"vectors_before"`
	VectorsAfter  int `json:"vectors_after"`
	VectorsAdded  int `json:"vectors_added"`
}

// Status is the JSON-shaped per-document ingestion record polled by
// callers.
type Status struct {
	DocID     string    `json:"doc_id"`
	State     State     `json:"status"`
	Counts    Counts    `json:"counts"`
	Errors    []string  `json:"errors,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// statusStore keeps one JSON file per document under dir. Files are
// replaced atomically (temp file + rename) so a poll never reads a torn
// record, even while the worker is mid-write.
type statusStore struct {
	dir string
}

// write replaces the record for st.DocID, trimming the error list to the
// most recent MaxStatusErrors entries and stamping UpdatedAt.
func (s statusStore) write(st Status) error {
	if err := validDocID(st.DocID); err != nil {
		return err
	}
	if len(st.Errors) > MaxStatusErrors {
		st.Errors = st.Errors[len(st.Errors)-MaxStatusErrors:]
	}
	st.UpdatedAt = time.Now()

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding status for %s: %w", st.DocID, err)
	}

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("creating status directory: %w", err)
	}

	path := filepath.Join(s.dir, st.DocID+".json")
	tmp, err := os.CreateTemp(s.dir, st.DocID+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating status temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing status for %s: %w", st.DocID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing status temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing status for %s: %w", st.DocID, err)
	}
	return nil
}

// read returns the stored record, or ok=false when none exists or the
// file cannot be decoded.
func (s statusStore) read(docID string) (Status, bool) {
	if validDocID(docID) != nil {
		return Status{}, false
	}
	data, err := os.ReadFile(filepath.Join(s.dir, docID+".json"))
	if err != nil {
		return Status{}, false
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return Status{}, false
	}
	return st, true
}

// ReadStatus loads the stored status record of a document straight from
// the status directory, without a running worker. ok is false when no
// readable record exists.
func ReadStatus(dir, docID string) (Status, bool) {
	return statusStore{dir: dir}.read(docID)
}

// validDocID rejects ids that would escape the status directory when used
// as a file name.
func validDocID(docID string) error {
	if docID == "" {
		return fmt.Errorf("document id is required")
	}
	if strings.ContainsAny(docID, `/\`) || docID != filepath.Base(docID) {
		return fmt.Errorf("invalid document id %q", docID)
	}
	return nil
}
