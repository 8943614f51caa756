// Package chunk implements small-to-big document chunking: large overlapping
// parent windows carry generation context, while the sentence-level child
// chunks inside them are the units embedded and indexed for retrieval.
package chunk

import (
	"encoding/hex"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Default chunking parameters, tuned for prose documents.
const (
	DefaultParentWords    = 1000 // words per parent window
	DefaultOverlapWords   = 100  // words shared between consecutive windows
	DefaultMinSentenceLen = 20   // minimum trimmed rune count for a child
)

var (
	// ErrInvalidParentSize indicates a non-positive parent window size.
	ErrInvalidParentSize = errors.New("parent window size must be positive")

	// ErrInvalidOverlap indicates an overlap that is negative or does not
	// leave room for forward progress between windows.
	ErrInvalidOverlap = errors.New("overlap must be non-negative and smaller than the parent window")

	// ErrInvalidMinSentenceLen indicates a negative sentence length threshold.
	ErrInvalidMinSentenceLen = errors.New("minimum sentence length must be non-negative")
)

// Chunk is one unit of chunker output.
// ParentID is empty for parent windows and names the enclosing parent window
// for sentence-level children.
type Chunk struct {
	ID       string
	ParentID string
	Content  string
	Title    string
	Position int // insertion order within its own list (parents or children)
}

// IsParent reports whether the chunk is a parent window.
func (c Chunk) IsParent() bool {
	return c.ParentID == ""
}

// Words reports the whitespace-separated word count of the chunk content.
func (c Chunk) Words() int {
	return len(strings.Fields(c.Content))
}

// Splitter slices document text into parent windows and child sentences.
// Construct with NewSplitter; the zero value is not usable.
//
// Splitter is stateless after construction and safe for concurrent use.
type Splitter struct {
	parentWords    int
	overlapWords   int
	minSentenceLen int
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithParentSize sets the parent window size in words.
func WithParentSize(words int) Option {
	return func(s *Splitter) {
		s.parentWords = words
	}
}

// WithOverlap sets the number of words shared between consecutive parent
// windows.
func WithOverlap(words int) Option {
	return func(s *Splitter) {
		s.overlapWords = words
	}
}

// WithMinSentenceLen sets the minimum trimmed rune count a sentence must
// exceed to become a child chunk.
func WithMinSentenceLen(runes int) Option {
	return func(s *Splitter) {
		s.minSentenceLen = runes
	}
}

// NewSplitter builds a Splitter with defaults overridden by opts.
func NewSplitter(opts ...Option) (*Splitter, error) {
	s := &Splitter{
		parentWords:    DefaultParentWords,
		overlapWords:   DefaultOverlapWords,
		minSentenceLen: DefaultMinSentenceLen,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.parentWords <= 0 {
		return nil, ErrInvalidParentSize
	}
	if s.overlapWords < 0 || s.overlapWords >= s.parentWords {
		return nil, ErrInvalidOverlap
	}
	if s.minSentenceLen < 0 {
		return nil, ErrInvalidMinSentenceLen
	}

	return s, nil
}

// Split produces parent windows and child sentences for content.
//
// A fixed-size word window slides over content with the configured overlap;
// the final window may be shorter. Each window becomes one parent chunk, and
// every sentence inside it whose trimmed length exceeds the minimum threshold
// becomes a child chunk referencing that parent's id.
//
// Empty or whitespace-only content yields two nil slices. Every returned id
// is unique within the call, and children only reference parents present in
// the same result.
func (s *Splitter) Split(content, title string) (parents, children []Chunk) {
	words := strings.Fields(content)
	if len(words) == 0 {
		return nil, nil
	}

	for start := 0; start < len(words); {
		end := min(start+s.parentWords, len(words))
		window := strings.Join(words[start:end], " ")

		parent := Chunk{
			ID:       newID("parent_"),
			Content:  window,
			Title:    title,
			Position: len(parents),
		}
		parents = append(parents, parent)

		for _, sentence := range splitSentences(window) {
			trimmed := strings.TrimSpace(sentence)
			if utf8.RuneCountInString(trimmed) <= s.minSentenceLen {
				continue
			}
			children = append(children, Chunk{
				ID:       newID("child_"),
				ParentID: parent.ID,
				Content:  trimmed,
				Title:    title,
				Position: len(children),
			})
		}

		if end == len(words) {
			break
		}
		start = end - s.overlapWords
	}

	return parents, children
}

// newID returns prefix plus a random UUID in compact hex form.
func newID(prefix string) string {
	u := uuid.New()
	return prefix + hex.EncodeToString(u[:])
}
