package index

import (
	"fmt"
	"log/slog"
	"maps"
	"math"
	"sort"
	"sync"
)

// overFetchFactor sizes the candidate pool for filtered searches. Filters are
// applied after ranking, so the pool must be larger than k to leave room for
// entries the filter rejects.
const overFetchFactor = 10

// Linear is a brute-force [Index]: an append-only array of normalized
// vectors scanned in full on every search.
//
// Entries keep their insertion position for the lifetime of the index; the
// position order is what persistence serializes and what search uses to
// break score ties.
type Linear struct {
	mu      sync.RWMutex
	dim     int
	ids     []string
	vectors [][]float32 // L2-normalized, parallel to ids
	meta    []map[string]string
	byID    map[string]int // id → position
	dir     string
	logger  *slog.Logger
}

var _ Index = (*Linear)(nil)

// NewLinear creates an empty linear index of fixed dimension dim with
// persistence artifacts rooted at dir.
func NewLinear(dir string, dim int, logger *slog.Logger) (*Linear, error) {
	if dir == "" {
		return nil, fmt.Errorf("index directory is required")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("index dimension must be positive, got %d", dim)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Linear{
		dim:    dim,
		byID:   make(map[string]int),
		dir:    dir,
		logger: logger,
	}, nil
}

// Dimensions returns the fixed vector dimension of the index.
func (l *Linear) Dimensions() int {
	return l.dim
}

// Add normalizes vector and stores it under id. Re-adding an existing id
// overwrites its vector and metadata in place; the entry keeps its original
// insertion position.
func (l *Linear) Add(id string, vector []float32, meta map[string]string) error {
	if id == "" {
		return ErrEmptyID
	}
	if len(vector) != l.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), l.dim)
	}

	normalized, err := normalize(vector)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if pos, ok := l.byID[id]; ok {
		l.vectors[pos] = normalized
		l.meta[pos] = maps.Clone(meta)
		return nil
	}

	l.byID[id] = len(l.ids)
	l.ids = append(l.ids, id)
	l.vectors = append(l.vectors, normalized)
	l.meta = append(l.meta, maps.Clone(meta))
	return nil
}

// Search returns up to k matches by descending cosine similarity, ties broken
// by earliest insertion order.
//
// With filters active, ranking considers a candidate pool of 10×k and walks
// it in rank order until k entries pass; exhausting the pool early returns
// fewer matches, which is valid.
func (l *Linear) Search(vector []float32, k int, opts ...SearchOption) ([]Match, error) {
	if len(vector) != l.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), l.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	query, err := normalize(vector)
	if err != nil {
		return nil, err
	}

	cfg := buildSearchConfig(opts)

	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.ids) == 0 {
		return nil, nil
	}

	// Rank every stored entry. Both vectors are unit length, so the dot
	// product is the cosine similarity.
	type candidate struct {
		pos   int
		score float32
	}
	candidates := make([]candidate, len(l.vectors))
	for i, stored := range l.vectors {
		candidates[i] = candidate{pos: i, score: dot(query, stored)}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].pos < candidates[j].pos
	})

	pool := k
	if cfg.filtered() {
		pool = k * overFetchFactor
	}
	if pool > len(candidates) {
		pool = len(candidates)
	}

	matches := make([]Match, 0, k)
	for _, c := range candidates[:pool] {
		if !cfg.matches(l.meta[c.pos]) {
			continue
		}
		matches = append(matches, Match{ID: l.ids[c.pos], Score: c.score})
		if len(matches) == k {
			break
		}
	}

	return matches, nil
}

// Count returns the number of stored entries.
func (l *Linear) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ids)
}

// Metadata returns a copy of the metadata stored for id, or nil when the id
// is unknown.
func (l *Linear) Metadata(id string) map[string]string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.byID[id]
	if !ok {
		return nil
	}
	return maps.Clone(l.meta[pos])
}

// normalize returns a fresh L2-normalized copy of v.
func normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return nil, ErrZeroVector
	}

	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

// dot computes the inner product of two equal-length vectors.
func dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}
