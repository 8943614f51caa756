// Package app assembles the application: configuration, tracing, the
// database pool, the genkit model stack, the vector index, the ingestion
// worker, and the query engine, with a single Close tearing everything
// down in reverse order.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/lore/internal/chunk"
	"github.com/koopa0/lore/internal/config"
	"github.com/koopa0/lore/internal/database"
	"github.com/koopa0/lore/internal/embed"
	"github.com/koopa0/lore/internal/index"
	"github.com/koopa0/lore/internal/ingest"
	"github.com/koopa0/lore/internal/llm"
	"github.com/koopa0/lore/internal/observability"
	"github.com/koopa0/lore/internal/rag"
	"github.com/koopa0/lore/internal/store"
)

// otelShutdownTimeout bounds the final span flush on Close.
const otelShutdownTimeout = 5 * time.Second

// App is the application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Pool   *pgxpool.Pool
	Store  *store.Store
	Index  *index.Linear
	Worker *ingest.Worker
	Engine *rag.Engine

	otelShutdown func(context.Context) error
	closed       bool
}

// New builds the application from configuration. Tracing is set up before
// genkit so its TracerProvider is ready, migrations run before the pool
// opens, and the index is loaded from disk before the worker starts.
//
// On error every resource constructed so far is released.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = slog.Default()
	}

	otelShutdown, err := observability.SetupDatadog(ctx, observability.Config{
		AgentHost:   cfg.Datadog.AgentHost,
		Environment: cfg.Datadog.Environment,
		ServiceName: cfg.Datadog.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}

	if err := cfg.EnsureDataDirs(); err != nil {
		return nil, fmt.Errorf("preparing data directories: %w", err)
	}

	pool, err := database.Connect(ctx, cfg.PostgresURL(), cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	app, err := build(ctx, cfg, logger, pool, otelShutdown)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return app, nil
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, otelShutdown func(context.Context) error) (*App, error) {
	records, err := store.New(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating record store: %w", err)
	}

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, fmt.Errorf("failed to initialize genkit")
	}

	provider, err := embed.New(embed.Config{
		Embedder:      googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel),
		Dimension:     cfg.EmbedderDimension,
		CallSpacing:   cfg.EmbedCallSpacing,
		QuotaCooldown: cfg.EmbedQuotaCooldown,
		DailyBudget:   cfg.EmbedDailyBudget,
		BatchSize:     cfg.EmbedBatchSize,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	client, err := llm.New(llm.Config{
		Genkit:      g,
		ModelName:   cfg.FullModelName(),
		Temperature: float64(cfg.Temperature),
		MaxTokens:   cfg.MaxTokens,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}

	splitter, err := chunk.NewSplitter(
		chunk.WithParentSize(cfg.ParentChunkWords),
		chunk.WithOverlap(cfg.ParentChunkOverlap),
		chunk.WithMinSentenceLen(cfg.MinSentenceChars),
	)
	if err != nil {
		return nil, fmt.Errorf("creating splitter: %w", err)
	}

	idx, err := index.NewLinear(cfg.IndexDir(), cfg.EmbedderDimension, logger)
	if err != nil {
		return nil, fmt.Errorf("creating vector index: %w", err)
	}
	if err := idx.Load(); err != nil {
		return nil, fmt.Errorf("loading vector index: %w", err)
	}

	worker, err := ingest.NewWorker(ingest.Config{
		UploadsDir: cfg.UploadsDir(),
		StatusDir:  cfg.StatusDir(),
		Splitter:   splitter,
		Embedder:   provider,
		Index:      idx,
		Records:    records,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating ingestion worker: %w", err)
	}

	engine, err := rag.New(rag.Config{
		Embedder:            provider,
		Generator:           client,
		Index:               idx,
		Records:             records,
		TopK:                cfg.TopK,
		ContextBudgetWords:  cfg.ContextBudgetWords,
		MaxHistoryMessages:  cfg.MaxHistoryMessages,
		EnableQueryEnhancer: cfg.EnableQueryEnhancer,
		EnableRerank:        cfg.EnableRerank,
		Logger:              logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating query engine: %w", err)
	}

	if err := worker.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting ingestion worker: %w", err)
	}

	return &App{
		Config:       cfg,
		Logger:       logger,
		Pool:         pool,
		Store:        records,
		Index:        idx,
		Worker:       worker,
		Engine:       engine,
		otelShutdown: otelShutdown,
	}, nil
}

// Close shuts the application down: the worker stops accepting and drains,
// the pool closes, and pending spans flush. Safe to call more than once.
func (a *App) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.Logger.Info("shutting down")

	var firstErr error
	if a.Worker != nil {
		a.Worker.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), otelShutdownTimeout)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flushing traces: %w", err)
		}
	}
	return firstErr
}
