package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	// 0. Check for nil config
	if c == nil {
		return ErrConfigNil
	}

	// 1. API Key validation (required for all AI operations)
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
			"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
			ErrMissingAPIKey)
	}

	// 2. Model configuration validation
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	// Temperature range: 0.0 (deterministic) to 2.0 (maximum creativity)
	// Reference: Gemini API documentation
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	// MaxTokens range: 1 to 2097152 (Gemini 2.5 max context window)
	if c.MaxTokens < 1 || c.MaxTokens > 2097152 {
		return fmt.Errorf("%w: must be between 1 and 2,097,152, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	// 3. Embedding configuration validation
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	if c.EmbedderDimension < 1 {
		return fmt.Errorf("%w: embedder_dimension must be positive, got %d",
			ErrInvalidEmbedderDimension, c.EmbedderDimension)
	}

	if c.EmbedBatchSize < 1 {
		return fmt.Errorf("%w: embed_batch_size must be positive, got %d",
			ErrInvalidEmbedPolicy, c.EmbedBatchSize)
	}

	if c.EmbedCallSpacing < 0 {
		return fmt.Errorf("%w: embed_call_spacing cannot be negative, got %s",
			ErrInvalidEmbedPolicy, c.EmbedCallSpacing)
	}

	if c.EmbedQuotaCooldown < 0 {
		return fmt.Errorf("%w: embed_quota_cooldown cannot be negative, got %s",
			ErrInvalidEmbedPolicy, c.EmbedQuotaCooldown)
	}

	if c.EmbedDailyBudget < 0 {
		return fmt.Errorf("%w: embed_daily_budget cannot be negative, got %d",
			ErrInvalidEmbedPolicy, c.EmbedDailyBudget)
	}

	// 4. Retrieval configuration validation
	if c.TopK < 1 || c.TopK > MaxTopK {
		return fmt.Errorf("%w: must be between 1 and %d, got %d", ErrInvalidTopK, MaxTopK, c.TopK)
	}

	if c.ContextBudgetWords < 1 {
		return fmt.Errorf("%w: context_budget_words must be positive, got %d",
			ErrInvalidContextBudget, c.ContextBudgetWords)
	}

	if c.MaxHistoryMessages < 0 {
		return fmt.Errorf("%w: max_history_messages cannot be negative, got %d",
			ErrInvalidContextBudget, c.MaxHistoryMessages)
	}

	// 5. Chunking configuration validation
	if c.ParentChunkWords < 1 {
		return fmt.Errorf("%w: parent_chunk_words must be positive, got %d",
			ErrInvalidChunking, c.ParentChunkWords)
	}

	if c.ParentChunkOverlap < 0 || c.ParentChunkOverlap >= c.ParentChunkWords {
		return fmt.Errorf("%w: parent_chunk_overlap must be in [0, parent_chunk_words), got %d",
			ErrInvalidChunking, c.ParentChunkOverlap)
	}

	if c.MinSentenceChars < 0 {
		return fmt.Errorf("%w: min_sentence_chars cannot be negative, got %d",
			ErrInvalidChunking, c.MinSentenceChars)
	}

	// 6. Data directory validation
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir cannot be empty", ErrInvalidDataDir)
	}

	// 7. PostgreSQL configuration validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml",
			ErrInvalidPostgresPassword)
	}

	// Warn if using default dev password (but don't block - user might be in dev)
	if c.PostgresPassword == "lore_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	// Validate password strength (minimum 8 characters)
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// 8. PostgreSQL SSL mode validation
	// DO NOT mutate config in Validate() - just validate
	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable)
	// Reference: https://www.postgresql.org/docs/current/libpq-ssl.html
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if c.PostgresSSLMode == "" {
		return fmt.Errorf("%w: postgres_ssl_mode is empty (should have default from setDefaults)",
			ErrInvalidPostgresSSLMode)
	}

	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v\n"+
			"Note: 'allow' and 'prefer' modes are deprecated (vulnerable to MITM attacks)",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}

// NormalizeTopK clamps a request-supplied top-k into [1, MaxTopK].
// Zero or negative values fall back to the configured default.
func (c *Config) NormalizeTopK(k int) int {
	if k <= 0 {
		k = c.TopK
	}
	if k < 1 {
		return 1
	}
	if k > MaxTopK {
		return MaxTopK
	}
	return k
}
