package testutil

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	"github.com/koopa0/lore/internal/config"
)

// GoogleAISetup contains the resources for tests that need real Google AI
// API access.
type GoogleAISetup struct {
	Embedder ai.Embedder
	Genkit   *genkit.Genkit
	Logger   *slog.Logger
}

// SetupGoogleAI initializes genkit with the Google AI plugin for
// integration tests.
//
// Requirements:
//   - GEMINI_API_KEY environment variable must be set
//   - Skips the test if the API key is not available
func SetupGoogleAI(t *testing.T) *GoogleAISetup {
	t.Helper()

	if os.Getenv("GEMINI_API_KEY") == "" {
		t.Skip("GEMINI_API_KEY not set - skipping test requiring Google AI")
	}

	ctx := context.Background()
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))

	embedder := googlegenai.GoogleAIEmbedder(g, config.DefaultGeminiEmbedderModel)

	return &GoogleAISetup{
		Embedder: embedder,
		Genkit:   g,
		Logger:   slog.New(slog.DiscardHandler),
	}
}
