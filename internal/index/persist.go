package index

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Persistence artifacts inside the index directory. The blob holds raw
// little-endian float32 values in insertion order; the sidecar holds
// everything needed to interpret them. The lock file guards both against
// concurrent processes.
const (
	vectorsFile = "vectors.bin"
	sidecarFile = "index_meta.json"
	lockFile    = "index.lock"
)

// sidecar is the JSON artifact describing the vector blob.
type sidecar struct {
	Dimension int                 `json:"dimension"`
	IDs       []string            `json:"ids"`
	Metadata  []map[string]string `json:"metadata"`
}

// Persist writes the index contents as two related artifacts under an
// exclusive file lock. Each artifact is replaced atomically (temp file +
// rename), so readers never observe a partially written file.
func (l *Linear) Persist() error {
	if err := os.MkdirAll(l.dir, 0o750); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	fl := flock.New(filepath.Join(l.dir, lockFile))
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("acquiring index lock: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	blob, sc := l.snapshot()

	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encoding index sidecar: %w", err)
	}

	if err := writeFileAtomic(filepath.Join(l.dir, vectorsFile), blob, 0o640); err != nil {
		return fmt.Errorf("writing vector blob: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(l.dir, sidecarFile), data, 0o640); err != nil {
		return fmt.Errorf("writing index sidecar: %w", err)
	}

	l.logger.Debug("index persisted", "entries", len(sc.IDs), "dir", l.dir)
	return nil
}

// snapshot serializes the current entries under the read lock.
func (l *Linear) snapshot() ([]byte, sidecar) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	blob := make([]byte, len(l.vectors)*l.dim*4)
	off := 0
	for _, vec := range l.vectors {
		for _, v := range vec {
			binary.LittleEndian.PutUint32(blob[off:], math.Float32bits(v))
			off += 4
		}
	}

	sc := sidecar{
		Dimension: l.dim,
		IDs:       append([]string(nil), l.ids...),
		Metadata:  make([]map[string]string, len(l.meta)),
	}
	for i, m := range l.meta {
		if m == nil {
			m = map[string]string{}
		}
		sc.Metadata[i] = m
	}

	return blob, sc
}

// Load replaces the index contents with the persisted artifacts.
//
// A missing, corrupt, or mutually inconsistent artifact pair resets the index
// to empty and logs the reason; Load never fails startup over bad artifacts.
func (l *Linear) Load() error {
	if err := os.MkdirAll(l.dir, 0o750); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	fl := flock.New(filepath.Join(l.dir, lockFile))
	if err := fl.RLock(); err != nil {
		return fmt.Errorf("acquiring index lock: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	metaPath := filepath.Join(l.dir, sidecarFile)
	blobPath := filepath.Join(l.dir, vectorsFile)

	data, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Debug("index artifacts missing, starting empty", "dir", l.dir)
			l.reset()
			return nil
		}
		return fmt.Errorf("reading index sidecar: %w", err)
	}

	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		l.logger.Warn("index sidecar corrupt, starting empty", "path", metaPath, "error", err)
		l.reset()
		return nil
	}

	blob, err := os.ReadFile(blobPath)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Warn("vector blob missing, starting empty", "path", blobPath)
			l.reset()
			return nil
		}
		return fmt.Errorf("reading vector blob: %w", err)
	}

	if sc.Dimension != l.dim {
		l.logger.Warn("persisted dimension differs, starting empty",
			"persisted", sc.Dimension, "configured", l.dim)
		l.reset()
		return nil
	}
	if len(sc.Metadata) != len(sc.IDs) {
		l.logger.Warn("index sidecar inconsistent, starting empty",
			"ids", len(sc.IDs), "metadata", len(sc.Metadata))
		l.reset()
		return nil
	}
	if want := len(sc.IDs) * l.dim * 4; len(blob) != want {
		l.logger.Warn("index artifacts inconsistent, starting empty",
			"blob_bytes", len(blob), "want_bytes", want)
		l.reset()
		return nil
	}

	ids := make([]string, len(sc.IDs))
	vectors := make([][]float32, len(sc.IDs))
	meta := make([]map[string]string, len(sc.IDs))
	byID := make(map[string]int, len(sc.IDs))

	off := 0
	for i, id := range sc.IDs {
		if _, dup := byID[id]; dup || id == "" {
			l.logger.Warn("index sidecar has duplicate or empty id, starting empty", "id", id)
			l.reset()
			return nil
		}
		vec := make([]float32, l.dim)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(blob[off:]))
			off += 4
		}
		ids[i] = id
		vectors[i] = vec
		meta[i] = sc.Metadata[i]
		byID[id] = i
	}

	l.mu.Lock()
	l.ids = ids
	l.vectors = vectors
	l.meta = meta
	l.byID = byID
	l.mu.Unlock()

	l.logger.Debug("index loaded", "entries", len(ids), "dir", l.dir)
	return nil
}

// reset discards all entries.
func (l *Linear) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ids = nil
	l.vectors = nil
	l.meta = nil
	l.byID = make(map[string]int)
}

// writeFileAtomic replaces path with data via a temp file in the same
// directory followed by a rename.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("setting temp file permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}
