package rag

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/koopa0/lore/internal/embed"
	"github.com/koopa0/lore/internal/index"
	"github.com/koopa0/lore/internal/store"
)

// Pipeline defaults; all overridable through Config.
const (
	DefaultTopK               = 8
	MaxTopK                   = 10
	DefaultContextBudgetWords = 6000
	DefaultMaxHistory         = 5
)

// Fixed degradation answers. The pipeline returns these instead of
// propagating provider errors to the transport layer.
const (
	noDocumentsAnswer = "I could not find any relevant documents to answer your question."
	apologyAnswer     = "I apologize, but I encountered an error while generating the answer."
)

// previewAnswerLimit caps the prompt echo a preview response carries.
const previewAnswerLimit = 1000

var (
	// ErrEmptyQuery indicates a request without query text.
	ErrEmptyQuery = errors.New("query text is required")

	// ErrNoChunks indicates an approve call whose chunk ids resolved to
	// nothing.
	ErrNoChunks = errors.New("no chunks resolved for the given ids")

	// ErrNoPrompt indicates a regenerate call against a trace that
	// stored no prompt.
	ErrNoPrompt = errors.New("trace has no stored prompt")
)

// Embedder turns query text into a retrieval vector and exposes the
// provider counters for the stats surface.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Snapshot() embed.Stats
}

// Generator produces text for a prompt. Used for query enhancement,
// reranking, and answer generation.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Searcher is the read-only slice of the vector index the pipeline uses.
type Searcher interface {
	Search(vector []float32, k int, opts ...index.SearchOption) ([]index.Match, error)
	Metadata(id string) map[string]string
	Count() int
}

// Records is the slice of the record store the pipeline reads and the
// trace surface it writes.
type Records interface {
	FetchParents(ctx context.Context, ids []string) (map[string]store.Chunk, error)
	FetchChunks(ctx context.Context, ids []string) ([]store.Chunk, error)
	SaveTrace(ctx context.Context, id string, payload any) error
	Trace(ctx context.Context, id string) (json.RawMessage, error)
	AddFeedback(ctx context.Context, traceID, thumb, comment string) error
	CountDocuments(ctx context.Context) (int, error)
}

// Config wires an Engine.
type Config struct {
	Embedder  Embedder
	Generator Generator
	Index     Searcher
	Records   Records

	// TopK is the default number of sources per answer when a request
	// does not set one. Requests are clamped to [1, MaxTopK].
	TopK int

	// ContextBudgetWords caps the assembled context passed to generation.
	ContextBudgetWords int

	// MaxHistoryMessages is how many trailing chat messages the
	// generation prompt carries.
	MaxHistoryMessages int

	// EnableQueryEnhancer turns on hypothetical-answer enhancement
	// before retrieval.
	EnableQueryEnhancer bool

	// EnableRerank turns on the LLM rerank pass over fetched parents.
	EnableRerank bool

	Logger *slog.Logger
}

// Message is one chat-history entry threaded into the generation prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Filter restricts retrieval to an owner and/or a document subset.
type Filter struct {
	Owner       string   `json:"owner,omitempty"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

// Request is one query execution.
type Request struct {
	Query   string    `json:"query"`
	TopK    int       `json:"top_k,omitempty"`
	Filter  Filter    `json:"filter,omitempty"`
	History []Message `json:"history,omitempty"`

	// Preview skips generation and returns the assembled prompt instead
	// of an answer.
	Preview bool `json:"preview,omitempty"`
}

// Source is one selected parent chunk backing the answer.
type Source struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Title   string  `json:"title"`
	Score   float32 `json:"score"`
}

// Response is the result of one query execution.
type Response struct {
	Answer     string   `json:"answer"`
	Sources    []Source `json:"sources"`
	Confidence float64  `json:"confidence"`
	TraceID    string   `json:"trace_id,omitempty"`
}

// TraceChunk records one retrieved chunk and its similarity score inside
// a trace payload.
type TraceChunk struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
}

// TracePayload is the immutable record of one pipeline execution.
// Approve and regenerate derive new payloads linked via FromTrace.
type TracePayload struct {
	Query      string       `json:"query"`
	Retrieved  []TraceChunk `json:"retrieved,omitempty"`
	ChunkIDs   []string     `json:"chunk_ids,omitempty"`
	Prompt     string       `json:"prompt"`
	Answer     string       `json:"answer"`
	Confidence float64      `json:"confidence"`
	Preview    bool         `json:"preview,omitempty"`
	FromTrace  string       `json:"from_trace,omitempty"`
}

// Stats is the engine's point-in-time counters for the stats surface.
type Stats struct {
	Vectors   int         `json:"vectors"`
	Documents int         `json:"documents"`
	Embedder  embed.Stats `json:"embedder"`
}

// Engine executes the retrieval-augmented answering pipeline. It only
// reads the vector index and chunk records; the ingestion worker is their
// single writer.
//
// Engine is safe for concurrent use by multiple goroutines.
type Engine struct {
	embedder  Embedder
	generator Generator
	index     Searcher
	records   Records

	topK        int
	budgetWords int
	maxHistory  int
	enhancer    bool
	rerank      bool
	logger      *slog.Logger
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("index is required")
	}
	if cfg.Records == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.TopK > MaxTopK {
		cfg.TopK = MaxTopK
	}
	if cfg.ContextBudgetWords <= 0 {
		cfg.ContextBudgetWords = DefaultContextBudgetWords
	}
	if cfg.MaxHistoryMessages <= 0 {
		cfg.MaxHistoryMessages = DefaultMaxHistory
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Engine{
		embedder:    cfg.Embedder,
		generator:   cfg.Generator,
		index:       cfg.Index,
		records:     cfg.Records,
		topK:        cfg.TopK,
		budgetWords: cfg.ContextBudgetWords,
		maxHistory:  cfg.MaxHistoryMessages,
		enhancer:    cfg.EnableQueryEnhancer,
		rerank:      cfg.EnableRerank,
		logger:      cfg.Logger,
	}, nil
}

// Query runs the full pipeline for one request.
//
// Errors are returned only when the pipeline cannot produce a vector to
// search with; every later failure degrades to a well-formed Response
// per the pipeline's fallback rules.
func (e *Engine) Query(ctx context.Context, req Request) (Response, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return Response{}, ErrEmptyQuery
	}
	topK := e.clampTopK(req.TopK)

	// 1. Optional enhancement: retrieval matches document language better
	// when the query is augmented with a hypothetical answer passage.
	retrievalText := query
	if e.enhancer {
		if passage, err := e.generator.Generate(ctx, hydePrompt(query)); err == nil && strings.TrimSpace(passage) != "" {
			retrievalText = query + "\n\n" + strings.TrimSpace(passage)
		} else if err != nil {
			e.logger.Debug("query enhancement failed, using raw query", "error", err)
		}
	}

	// 2. Retrieval with rerank headroom.
	vector, err := e.embedder.Embed(ctx, retrievalText)
	if err != nil {
		return Response{}, fmt.Errorf("embedding query: %w", err)
	}
	matches, err := e.index.Search(vector, 2*topK, searchOptions(req.Filter)...)
	if err != nil {
		return Response{}, fmt.Errorf("searching index: %w", err)
	}
	if len(matches) == 0 {
		return Response{Answer: noDocumentsAnswer, Sources: []Source{}}, nil
	}

	// 3. Small-to-big: resolve each child match to its parent window.
	parents, parentScores := e.resolveParents(ctx, matches)
	if len(parents) == 0 {
		return Response{Answer: noDocumentsAnswer, Sources: []Source{}}, nil
	}

	// 4. Rerank against the original, unenhanced query.
	if e.rerank && len(parents) > 1 {
		parents = e.rerankParents(ctx, query, parents)
	}
	if len(parents) > topK {
		parents = parents[:topK]
	}

	// 5-6. Assemble context and generate.
	texts := make([]string, len(parents))
	for i, p := range parents {
		texts[i] = p.Content
	}
	contextText := assembleContext(texts, e.budgetWords)
	prompt := buildPrompt(contextText, query, trailingHistory(req.History, e.maxHistory))

	var answer string
	if req.Preview {
		answer = previewAnswer(prompt)
	} else {
		answer, err = e.generator.Generate(ctx, prompt)
		if err != nil {
			e.logger.Warn("generation failed, returning apology answer", "error", err)
			answer = apologyAnswer
		}
	}

	// 7. Confidence from the selected parents' retrieval scores.
	confidence := confidenceFrom(parents, parentScores)

	// 8. Immutable trace; a failed write degrades to a warning.
	sources := make([]Source, len(parents))
	retrieved := make([]TraceChunk, len(parents))
	for i, p := range parents {
		score := parentScores[p.ID]
		sources[i] = Source{ID: p.ID, Content: p.Content, Title: p.Metadata["title"], Score: score}
		retrieved[i] = TraceChunk{ID: p.ID, Score: score}
	}

	traceID := newTraceID()
	e.saveTrace(ctx, traceID, TracePayload{
		Query:      query,
		Retrieved:  retrieved,
		Prompt:     prompt,
		Answer:     answer,
		Confidence: confidence,
		Preview:    req.Preview,
	})

	return Response{Answer: answer, Sources: sources, Confidence: confidence, TraceID: traceID}, nil
}

// Approve regenerates an answer from a caller-chosen chunk subset,
// bypassing retrieval and rerank, and stores a derived trace linked to
// the original.
func (e *Engine) Approve(ctx context.Context, traceID string, chunkIDs []string) (Response, error) {
	payload, err := e.tracePayload(ctx, traceID)
	if err != nil {
		return Response{}, err
	}

	chunks, err := e.records.FetchChunks(ctx, chunkIDs)
	if err != nil {
		return Response{}, fmt.Errorf("fetching chunks: %w", err)
	}
	if len(chunks) == 0 {
		return Response{}, ErrNoChunks
	}

	texts := make([]string, len(chunks))
	sources := make([]Source, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
		ids[i] = c.ID
		sources[i] = Source{ID: c.ID, Content: c.Content, Title: c.Metadata["title"]}
	}

	prompt := buildPrompt(assembleContext(texts, e.budgetWords), payload.Query, nil)
	answer, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		e.logger.Warn("generation failed during approve, returning apology answer", "error", err)
		answer = apologyAnswer
	}

	derivedID := traceID + "-approved"
	e.saveTrace(ctx, derivedID, TracePayload{
		Query:     payload.Query,
		ChunkIDs:  ids,
		Prompt:    prompt,
		Answer:    answer,
		FromTrace: traceID,
	})

	return Response{Answer: answer, Sources: sources, TraceID: derivedID}, nil
}

// Regenerate re-runs generation against the prompt stored in an existing
// trace and stores a derived trace linked to the original.
func (e *Engine) Regenerate(ctx context.Context, traceID string) (Response, error) {
	payload, err := e.tracePayload(ctx, traceID)
	if err != nil {
		return Response{}, err
	}
	if payload.Prompt == "" {
		return Response{}, fmt.Errorf("trace %s: %w", traceID, ErrNoPrompt)
	}

	answer, err := e.generator.Generate(ctx, payload.Prompt)
	if err != nil {
		e.logger.Warn("generation failed during regenerate, returning apology answer", "error", err)
		answer = apologyAnswer
	}

	derivedID := traceID + "-regen"
	e.saveTrace(ctx, derivedID, TracePayload{
		Query:      payload.Query,
		Prompt:     payload.Prompt,
		Answer:     answer,
		Confidence: payload.Confidence,
		FromTrace:  traceID,
	})

	return Response{Answer: answer, Sources: []Source{}, Confidence: payload.Confidence, TraceID: derivedID}, nil
}

// Feedback records a thumb and optional comment against a stored trace.
func (e *Engine) Feedback(ctx context.Context, traceID, thumb, comment string) error {
	return e.records.AddFeedback(ctx, traceID, thumb, comment)
}

// Trace returns the stored payload of a trace.
func (e *Engine) Trace(ctx context.Context, traceID string) (TracePayload, error) {
	return e.tracePayload(ctx, traceID)
}

// Stats reports the engine's counters.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	documents, err := e.records.CountDocuments(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("counting documents: %w", err)
	}
	return Stats{
		Vectors:   e.index.Count(),
		Documents: documents,
		Embedder:  e.embedder.Snapshot(),
	}, nil
}

// resolveParents maps child matches to their parent chunks, preserving
// first-seen order and keeping each parent's best child score. Children
// with missing linkage and parents absent from the record store are
// skipped, not errors.
func (e *Engine) resolveParents(ctx context.Context, matches []index.Match) ([]store.Chunk, map[string]float32) {
	var order []string
	scores := make(map[string]float32)
	for _, m := range matches {
		meta := e.index.Metadata(m.ID)
		parentID := meta[index.MetaParentID]
		if parentID == "" {
			e.logger.Debug("child chunk without parent linkage, skipping", "chunk_id", m.ID)
			continue
		}
		if _, seen := scores[parentID]; !seen {
			order = append(order, parentID)
			scores[parentID] = m.Score // matches are score-ordered, first is best
		}
	}

	fetched, err := e.records.FetchParents(ctx, order)
	if err != nil {
		e.logger.Warn("fetching parent chunks failed", "error", err)
		return nil, nil
	}

	parents := make([]store.Chunk, 0, len(fetched))
	for _, id := range order {
		if p, ok := fetched[id]; ok {
			parents = append(parents, p)
		} else {
			e.logger.Debug("parent chunk missing from record store, skipping", "parent_id", id)
		}
	}
	return parents, scores
}

// tracePayload loads and decodes a stored trace.
func (e *Engine) tracePayload(ctx context.Context, traceID string) (TracePayload, error) {
	raw, err := e.records.Trace(ctx, traceID)
	if err != nil {
		return TracePayload{}, err
	}
	var payload TracePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return TracePayload{}, fmt.Errorf("decoding trace %s: %w", traceID, err)
	}
	return payload, nil
}

// saveTrace persists a trace payload, degrading to a log warning: the
// answer still reaches the caller when the audit write fails.
func (e *Engine) saveTrace(ctx context.Context, id string, payload TracePayload) {
	if err := e.records.SaveTrace(ctx, id, payload); err != nil {
		e.logger.Warn("persisting trace failed", "trace_id", id, "error", err)
	}
}

// clampTopK resolves a request's top-k to [1, MaxTopK], defaulting to the
// engine's configured value.
func (e *Engine) clampTopK(k int) int {
	if k <= 0 {
		return e.topK
	}
	if k > MaxTopK {
		return MaxTopK
	}
	return k
}

// searchOptions translates a request filter into index search options.
func searchOptions(f Filter) []index.SearchOption {
	var opts []index.SearchOption
	if f.Owner != "" {
		opts = append(opts, index.WithFilter(index.MetaOwner, f.Owner))
	}
	if len(f.DocumentIDs) > 0 {
		opts = append(opts, index.WithDocumentIDs(f.DocumentIDs))
	}
	return opts
}

// confidenceFrom averages the selected parents' cosine scores and remaps
// [-1, 1] linearly onto [0, 1], clamped.
func confidenceFrom(parents []store.Chunk, scores map[string]float32) float64 {
	if len(parents) == 0 {
		return 0
	}
	var sum float64
	for _, p := range parents {
		sum += float64(scores[p.ID])
	}
	confidence := (sum/float64(len(parents)) + 1) / 2
	return min(max(confidence, 0), 1)
}

// trailingHistory keeps the most recent n messages.
func trailingHistory(history []Message, n int) []Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// previewAnswer echoes the prompt a dry run would have sent, truncated.
func previewAnswer(prompt string) string {
	runes := []rune(prompt)
	if len(runes) > previewAnswerLimit {
		runes = runes[:previewAnswerLimit]
	}
	return "[preview] " + string(runes)
}

// newTraceID returns a fresh trace id in compact hex form.
func newTraceID() string {
	u := uuid.New()
	return "trace_" + hex.EncodeToString(u[:])
}
