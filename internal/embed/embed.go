// Package embed maps text to fixed-dimension vectors through a genkit
// embedder.
//
// The remote call is wrapped with a quota-aware degradation policy:
// successive calls keep a minimum spacing, a rolling daily call counter
// enforces an optional budget, and a quota error puts the provider into a
// timed cool-down during which every request is served by a deterministic
// content-hash fallback vector instead of the network.
package embed

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// DefaultBatchSize is the number of texts sent per remote call when the
// configuration does not say otherwise.
const DefaultBatchSize = 64

// dayLayout keys the rolling daily call counter by local calendar day.
const dayLayout = "2006-01-02"

// Config holds the tunables for a Provider.
type Config struct {
	// Embedder is the genkit embedder performing remote calls.
	Embedder ai.Embedder

	// Dimension is the exact output vector length. The provider requests
	// this dimensionality from the remote model and rejects responses
	// that disagree.
	Dimension int

	// CallSpacing is the minimum gap between successive remote calls.
	// Zero disables spacing.
	CallSpacing time.Duration

	// QuotaCooldown is how long the provider serves fallback vectors
	// after a quota error.
	QuotaCooldown time.Duration

	// DailyBudget caps remote calls per local day. Zero means unlimited.
	DailyBudget int

	// BatchSize is the number of texts per remote call. Values below one
	// fall back to DefaultBatchSize.
	BatchSize int

	Logger *slog.Logger
}

// Stats is a point-in-time snapshot of provider counters.
type Stats struct {
	// Day is the local calendar day the remote call counter belongs to.
	Day string `json:"day"`

	// RemoteCalls counts successful remote calls made on Day.
	RemoteCalls int `json:"remote_calls"`

	// FallbackCalls counts texts served by the deterministic fallback
	// over the provider's lifetime.
	FallbackCalls int `json:"fallback_calls"`

	// CooldownUntil is the quota cool-down deadline. Zero when no
	// cool-down is active.
	CooldownUntil time.Time `json:"cooldown_until"`
}

// Provider embeds text through a remote genkit embedder with quota-aware
// degradation to deterministic fallback vectors.
//
// Provider is safe for concurrent use by multiple goroutines.
type Provider struct {
	embedder ai.Embedder
	dim      int
	cooldown time.Duration
	budget   int
	batch    int
	limiter  *rate.Limiter
	logger   *slog.Logger

	mu            sync.Mutex
	day           string
	remoteCalls   int
	fallbackCalls int
	cooldownUntil time.Time
	now           func() time.Time
}

// New creates a Provider. Dimension must match the vector index the
// provider feeds.
func New(cfg Config) (*Provider, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", cfg.Dimension)
	}
	if cfg.CallSpacing < 0 {
		return nil, fmt.Errorf("call spacing must not be negative, got %v", cfg.CallSpacing)
	}
	if cfg.QuotaCooldown < 0 {
		return nil, fmt.Errorf("quota cooldown must not be negative, got %v", cfg.QuotaCooldown)
	}
	if cfg.DailyBudget < 0 {
		return nil, fmt.Errorf("daily budget must not be negative, got %d", cfg.DailyBudget)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Provider{
		embedder: cfg.Embedder,
		dim:      cfg.Dimension,
		cooldown: cfg.QuotaCooldown,
		budget:   cfg.DailyBudget,
		batch:    cfg.BatchSize,
		limiter:  rate.NewLimiter(rate.Every(cfg.CallSpacing), 1),
		logger:   cfg.Logger,
		now:      time.Now,
	}, nil
}

// Dimensions returns the fixed output vector length.
func (p *Provider) Dimensions() int { return p.dim }

// Embed maps a single text to a vector of exactly Dimensions() components.
// During a quota cool-down the vector comes from the deterministic
// fallback, with no network call and no spacing wait.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, errs := p.EmbedBatch(ctx, []string{text})
	if errs[0] != nil {
		return nil, errs[0]
	}
	return vectors[0], nil
}

// EmbedBatch maps each text to a vector. Results are positional: for every
// index i exactly one of vectors[i] and errs[i] is set. Texts are sent to
// the remote model in batches; a transient failure marks only the
// positions of its own batch and the remaining batches still run, so
// callers can skip failed texts and keep the rest.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, []error) {
	vectors := make([][]float32, len(texts))
	errs := make([]error, len(texts))
	for start := 0; start < len(texts); start += p.batch {
		end := min(start+p.batch, len(texts))
		p.embedSpan(ctx, texts, vectors, errs, start, end)
	}
	return vectors, errs
}

// Snapshot returns current counters for the stats surface.
func (p *Provider) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	p.rollDayLocked(now)
	s := Stats{
		Day:           p.day,
		RemoteCalls:   p.remoteCalls,
		FallbackCalls: p.fallbackCalls,
	}
	if now.Before(p.cooldownUntil) {
		s.CooldownUntil = p.cooldownUntil
	}
	return s
}

// embedSpan fills vectors[start:end] (or errs[start:end]) for one remote
// batch.
func (p *Provider) embedSpan(ctx context.Context, texts []string, vectors [][]float32, errs []error, start, end int) {
	if p.degraded() {
		p.fallbackSpan(texts, vectors, start, end)
		return
	}
	if err := p.limiter.Wait(ctx); err != nil {
		for i := start; i < end; i++ {
			errs[i] = fmt.Errorf("waiting for call slot: %w", err)
		}
		return
	}
	out, err := p.embedRemote(ctx, texts[start:end])
	if err != nil {
		if isQuotaError(err) {
			p.beginCooldown(err)
			p.fallbackSpan(texts, vectors, start, end)
			return
		}
		for i := start; i < end; i++ {
			errs[i] = fmt.Errorf("embedding batch: %w", err)
		}
		return
	}
	copy(vectors[start:end], out)
}

// degraded reports whether remote calls are currently short-circuited to
// the fallback, either because a quota cool-down is active or the daily
// budget is spent.
func (p *Provider) degraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	p.rollDayLocked(now)
	if now.Before(p.cooldownUntil) {
		return true
	}
	return p.budget > 0 && p.remoteCalls >= p.budget
}

// rollDayLocked resets the daily call counter at local-day rollover.
// Callers must hold p.mu.
func (p *Provider) rollDayLocked(now time.Time) {
	day := now.Format(dayLayout)
	if day != p.day {
		p.day = day
		p.remoteCalls = 0
	}
}

func (p *Provider) beginCooldown(cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cooldownUntil = p.now().Add(p.cooldown)
	p.logger.Warn("embedding quota exhausted, serving fallback vectors",
		"until", p.cooldownUntil,
		"error", cause)
}

// embedRemote performs one remote call for texts and returns vectors in
// input order.
func (p *Provider) embedRemote(ctx context.Context, texts []string) ([][]float32, error) {
	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(t, nil)
	}
	dim := int32(p.dim)
	resp, err := p.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   docs,
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) != p.dim {
			return nil, fmt.Errorf("embedding dimension mismatch at position %d: got %d, want %d", i, len(e.Embedding), p.dim)
		}
		out[i] = e.Embedding
	}
	p.mu.Lock()
	p.rollDayLocked(p.now())
	p.remoteCalls++
	p.mu.Unlock()
	return out, nil
}

func (p *Provider) fallbackSpan(texts []string, vectors [][]float32, start, end int) {
	for i := start; i < end; i++ {
		vectors[i] = p.fallbackVector(texts[i])
	}
	p.mu.Lock()
	p.fallbackCalls += end - start
	p.mu.Unlock()
	p.logger.Debug("served fallback embeddings", "count", end-start)
}

// fallbackVector derives a vector from the text's sha256 digest so the
// same text always maps to the same vector while the remote provider is
// unavailable. Components lie in [-1, 1] and repeat with period 32, and
// the result is never the zero vector.
func (p *Provider) fallbackVector(text string) []float32 {
	digest := sha256.Sum256([]byte(text))
	v := make([]float32, p.dim)
	for i := range v {
		v[i] = float32(digest[i%sha256.Size])/255*2 - 1
	}
	return v
}

// isQuotaError classifies provider failures that should start the
// cool-down, matching explicit quota messages and HTTP 429 statuses.
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota") || strings.Contains(msg, "429")
}
