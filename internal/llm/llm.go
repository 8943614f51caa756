// Package llm wraps genkit text generation behind a small client that adds
// request spacing, retry with exponential backoff, and a circuit breaker,
// so provider stalls and rate limits surface as well-defined errors
// instead of hung or cascading queries.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// Config configures a Client.
type Config struct {
	// Genkit is the initialized genkit instance the model is resolved
	// from.
	Genkit *genkit.Genkit

	// ModelName is the provider-qualified model name, for example
	// "googleai/gemini-2.5-flash".
	ModelName string

	// Temperature is the sampling temperature passed on every call.
	Temperature float64

	// MaxTokens caps the response length. Zero leaves the model default.
	MaxTokens int

	// RequestSpacing is the minimum gap between generate calls.
	// Zero disables spacing.
	RequestSpacing time.Duration

	// Retry configures transient-error retry. The zero value uses
	// DefaultRetryConfig.
	Retry RetryConfig

	// Breaker configures the circuit breaker. Zero fields use defaults.
	Breaker CircuitBreakerConfig

	Logger *slog.Logger
}

// Client calls a genkit text model.
//
// Client is safe for concurrent use by multiple goroutines. All
// configuration is captured immutably at construction time.
type Client struct {
	g           *genkit.Genkit
	modelName   string
	temperature float32
	maxTokens   int32

	limiter *rate.Limiter // nil = spacing disabled
	retry   RetryConfig
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Genkit == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if cfg.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens must not be negative, got %d", cfg.MaxTokens)
	}
	if cfg.RequestSpacing < 0 {
		return nil, fmt.Errorf("request spacing must not be negative, got %v", cfg.RequestSpacing)
	}
	retry := cfg.Retry
	if retry == (RetryConfig{}) {
		retry = DefaultRetryConfig()
	}
	var limiter *rate.Limiter
	if cfg.RequestSpacing > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.RequestSpacing), 1)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		g:           cfg.Genkit,
		modelName:   cfg.ModelName,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
		limiter:     limiter,
		retry:       retry,
		breaker:     NewCircuitBreaker(cfg.Breaker),
		logger:      logger,
	}, nil
}

// ModelName returns the provider-qualified model name the client calls.
func (c *Client) ModelName() string { return c.modelName }

// Generate produces text for prompt using the configured model.
//
// The call waits for the request spacing slot, retries transient provider
// errors with exponential backoff, and is guarded by the circuit breaker:
// while the circuit is open, Generate fails fast with ErrCircuitOpen in
// the error chain and no provider call is made.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("prompt is required")
	}

	if err := c.breaker.Allow(); err != nil {
		c.logger.Warn("circuit breaker open, rejecting generation",
			"state", c.breaker.State().String())
		return "", fmt.Errorf("generation unavailable: %w", err)
	}

	resp, err := c.generateWithRetry(ctx, prompt)
	if err != nil {
		c.breaker.Failure()
		return "", err
	}

	c.breaker.Success()
	return resp.Text(), nil
}

// generateOpts assembles the per-call genkit options.
func (c *Client) generateOpts(prompt string) []ai.GenerateOption {
	gc := &genai.GenerateContentConfig{
		Temperature: &c.temperature,
	}
	if c.maxTokens > 0 {
		gc.MaxOutputTokens = c.maxTokens
	}
	return []ai.GenerateOption{
		ai.WithModelName(c.modelName),
		ai.WithPrompt(prompt),
		ai.WithConfig(gc),
	}
}
