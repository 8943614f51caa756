// Package index provides an in-process vector index over (id, vector,
// metadata) entries with cosine top-k search and disk persistence.
//
// The [Index] interface decouples callers from the scan strategy so the
// linear implementation can be swapped for an approximate nearest-neighbor
// structure without touching call sites.
//
// # Concurrency
//
// Implementations are safe for one writer with concurrent readers. The
// ingestion worker is the only writer; query-time callers only search.
package index

import "errors"

var (
	// ErrDimensionMismatch indicates a vector whose length differs from the
	// index dimension fixed at construction.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrZeroVector indicates an all-zero vector, which cannot be L2
	// normalized.
	ErrZeroVector = errors.New("zero-norm vector cannot be normalized")

	// ErrEmptyID indicates an entry with an empty id.
	ErrEmptyID = errors.New("empty vector id")
)

// Metadata keys shared between the ingestion writer and query-time readers.
const (
	MetaDocumentID = "document_id"
	MetaParentID   = "parent_id"
	MetaOwner      = "owner"
	MetaTitle      = "title"
)

// Match is a single search hit, ordered by descending score.
type Match struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
}

// Index is a position-stable vector index.
//
// Add normalizes and appends; re-adding an existing id overwrites its vector
// and metadata in place without changing its insertion position. Search
// returns at most k matches by descending cosine similarity, ties broken by
// earliest insertion; fewer than k matches (including zero) is a valid
// result, never an error. Persist and Load exchange the index contents with
// its artifact directory.
type Index interface {
	Add(id string, vector []float32, meta map[string]string) error
	Search(vector []float32, k int, opts ...SearchOption) ([]Match, error)
	Count() int
	Persist() error
	Load() error
}

// SearchOption configures search behavior using the functional options
// pattern.
type SearchOption func(*searchConfig)

// searchConfig holds internal search configuration.
type searchConfig struct {
	filters map[string]string
	docIDs  map[string]bool
}

// WithFilter restricts results to entries whose metadata contains the given
// key/value pair. Multiple calls add additional filters (AND logic).
// Example: WithFilter(MetaOwner, "alice")
func WithFilter(key, value string) SearchOption {
	return func(c *searchConfig) {
		if c.filters == nil {
			c.filters = make(map[string]string)
		}
		c.filters[key] = value
	}
}

// WithDocumentIDs restricts results to entries whose document id metadata is
// in ids. An empty ids slice imposes no restriction.
func WithDocumentIDs(ids []string) SearchOption {
	return func(c *searchConfig) {
		if len(ids) == 0 {
			return
		}
		if c.docIDs == nil {
			c.docIDs = make(map[string]bool, len(ids))
		}
		for _, id := range ids {
			c.docIDs[id] = true
		}
	}
}

// buildSearchConfig applies search options and returns the final
// configuration.
func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// filtered reports whether any restriction is active.
func (c *searchConfig) filtered() bool {
	return len(c.filters) > 0 || len(c.docIDs) > 0
}

// matches reports whether entry metadata satisfies every active restriction.
func (c *searchConfig) matches(meta map[string]string) bool {
	for k, v := range c.filters {
		if meta[k] != v {
			return false
		}
	}
	if len(c.docIDs) > 0 && !c.docIDs[meta[MetaDocumentID]] {
		return false
	}
	return true
}
