package config

import (
	"errors"
	"os"
	"testing"
	"time"
)

// validConfig returns a configuration that passes Validate().
// Individual tests mutate single fields to exercise specific checks.
func validConfig() *Config {
	return &Config{
		Provider:           ProviderGemini,
		ModelName:          "gemini-2.5-flash",
		Temperature:        0.7,
		MaxTokens:          2048,
		EmbedderModel:      DefaultGeminiEmbedderModel,
		EmbedderDimension:  DefaultEmbedderDimension,
		EmbedBatchSize:     64,
		EmbedCallSpacing:   4 * time.Second,
		EmbedQuotaCooldown: 24 * time.Hour,
		TopK:               DefaultTopK,
		ContextBudgetWords: 6000,
		MaxHistoryMessages: 5,
		ParentChunkWords:   1000,
		ParentChunkOverlap: 100,
		MinSentenceChars:   20,
		DataDir:            "/tmp/lore-data",
		PostgresHost:       "localhost",
		PostgresPort:       5432,
		PostgresUser:       "lore",
		PostgresPassword:   "a_strong_password",
		PostgresDBName:     "lore",
		PostgresSSLMode:    "disable",
	}
}

func TestValidate(t *testing.T) {
	// Validation requires the API key in the environment
	originalAPIKey := os.Getenv("GEMINI_API_KEY")
	if err := os.Setenv("GEMINI_API_KEY", "test-api-key"); err != nil {
		t.Fatalf("Failed to set GEMINI_API_KEY: %v", err)
	}
	defer func() {
		if originalAPIKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", originalAPIKey)
		} else {
			_ = os.Unsetenv("GEMINI_API_KEY")
		}
	}()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid", func(c *Config) {}, nil},
		{"empty model name", func(c *Config) { c.ModelName = "" }, ErrInvalidModelName},
		{"temperature too low", func(c *Config) { c.Temperature = -0.1 }, ErrInvalidTemperature},
		{"temperature too high", func(c *Config) { c.Temperature = 2.1 }, ErrInvalidTemperature},
		{"max tokens zero", func(c *Config) { c.MaxTokens = 0 }, ErrInvalidMaxTokens},
		{"empty embedder model", func(c *Config) { c.EmbedderModel = "" }, ErrInvalidEmbedderModel},
		{"zero dimension", func(c *Config) { c.EmbedderDimension = 0 }, ErrInvalidEmbedderDimension},
		{"negative dimension", func(c *Config) { c.EmbedderDimension = -768 }, ErrInvalidEmbedderDimension},
		{"zero batch size", func(c *Config) { c.EmbedBatchSize = 0 }, ErrInvalidEmbedPolicy},
		{"negative spacing", func(c *Config) { c.EmbedCallSpacing = -time.Second }, ErrInvalidEmbedPolicy},
		{"negative cooldown", func(c *Config) { c.EmbedQuotaCooldown = -time.Hour }, ErrInvalidEmbedPolicy},
		{"negative daily budget", func(c *Config) { c.EmbedDailyBudget = -1 }, ErrInvalidEmbedPolicy},
		{"top-k zero", func(c *Config) { c.TopK = 0 }, ErrInvalidTopK},
		{"top-k too large", func(c *Config) { c.TopK = MaxTopK + 1 }, ErrInvalidTopK},
		{"zero context budget", func(c *Config) { c.ContextBudgetWords = 0 }, ErrInvalidContextBudget},
		{"negative history", func(c *Config) { c.MaxHistoryMessages = -1 }, ErrInvalidContextBudget},
		{"zero parent words", func(c *Config) { c.ParentChunkWords = 0 }, ErrInvalidChunking},
		{"overlap equals window", func(c *Config) { c.ParentChunkOverlap = c.ParentChunkWords }, ErrInvalidChunking},
		{"negative min sentence", func(c *Config) { c.MinSentenceChars = -1 }, ErrInvalidChunking},
		{"empty data dir", func(c *Config) { c.DataDir = "" }, ErrInvalidDataDir},
		{"empty postgres host", func(c *Config) { c.PostgresHost = "" }, ErrInvalidPostgresHost},
		{"postgres port zero", func(c *Config) { c.PostgresPort = 0 }, ErrInvalidPostgresPort},
		{"postgres port too large", func(c *Config) { c.PostgresPort = 65536 }, ErrInvalidPostgresPort},
		{"empty db name", func(c *Config) { c.PostgresDBName = "" }, ErrInvalidPostgresDBName},
		{"empty password", func(c *Config) { c.PostgresPassword = "" }, ErrInvalidPostgresPassword},
		{"short password", func(c *Config) { c.PostgresPassword = "short" }, ErrInvalidPostgresPassword},
		{"empty ssl mode", func(c *Config) { c.PostgresSSLMode = "" }, ErrInvalidPostgresSSLMode},
		{"deprecated ssl mode", func(c *Config) { c.PostgresSSLMode = "prefer" }, ErrInvalidPostgresSSLMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_NilConfig(t *testing.T) {
	var cfg *Config
	if err := cfg.Validate(); !errors.Is(err, ErrConfigNil) {
		t.Errorf("Validate() on nil = %v, want %v", err, ErrConfigNil)
	}
}

func TestValidate_MissingAPIKey(t *testing.T) {
	originalAPIKey := os.Getenv("GEMINI_API_KEY")
	if err := os.Unsetenv("GEMINI_API_KEY"); err != nil {
		t.Fatalf("Failed to unset GEMINI_API_KEY: %v", err)
	}
	defer func() {
		if originalAPIKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", originalAPIKey)
		}
	}()

	cfg := validConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("Validate() without API key = %v, want %v", err, ErrMissingAPIKey)
	}
}

func TestNormalizeTopK(t *testing.T) {
	cfg := validConfig()

	tests := []struct {
		name string
		in   int
		want int
	}{
		{"zero uses configured default", 0, cfg.TopK},
		{"negative uses configured default", -3, cfg.TopK},
		{"within range passes through", 5, 5},
		{"one is allowed", 1, 1},
		{"clamped to ceiling", 50, MaxTopK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cfg.NormalizeTopK(tt.in); got != tt.want {
				t.Errorf("NormalizeTopK(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
