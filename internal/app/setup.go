package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/parleyhq/parley/db"
	"github.com/parleyhq/parley/internal/analytics"
	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/evals"
	"github.com/parleyhq/parley/internal/knowledge"
	"github.com/parleyhq/parley/internal/modelclient"
	"github.com/parleyhq/parley/internal/observability"
	"github.com/parleyhq/parley/internal/prompt"
	"github.com/parleyhq/parley/internal/retrieval"
	"github.com/parleyhq/parley/internal/session"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	a := &App{Config: cfg}
	logger := slog.Default()

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				slog.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	a.Knowledge = knowledge.New(knowledge.NewPgxQuerier(pool), embedder, logger)

	bus, err := analytics.NewBus(logger)
	if err != nil {
		return nil, fmt.Errorf("creating analytics bus: %w", err)
	}
	a.Analytics = bus

	a.Sessions = session.NewStore(session.StoreConfig{
		IdleTimeout: cfg.SessionIdleTimeout,
		Analytics:   bus,
		Logger:      logger,
	})

	var evalSink retrieval.EvalSink
	if cfg.IsEvaluation {
		evalSink = evals.NewCSVSink(cfg.EvalsDataFilePath, logger)
		logger.Info("retrieval evaluation recording enabled", "path", cfg.EvalsDataFilePath)
	}

	manager, err := chat.NewManager(chat.ManagerConfig{
		Factory:   modelclient.NewGenkitFactory(g, nil, logger),
		Store:     a.Sessions,
		Knowledge: a.Knowledge,
		Evals:     evalSink,
		Analytics: bus,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat manager: %w", err)
	}
	a.Manager = manager

	catalog, err := prompt.Load(cfg.PromptsDir, logger)
	if err != nil {
		// A missing catalog directory only disables prompt-by-identifier.
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("prompt catalog directory not found, catalog disabled", "dir", cfg.PromptsDir)
		} else {
			return nil, fmt.Errorf("loading prompt catalog: %w", err)
		}
	} else {
		a.Catalog = catalog
	}

	a.ModelCfg = modelclient.ModelConfig{
		Provider:        cfg.Provider,
		Name:            cfg.ModelName,
		Temperature:     cfg.Temperature,
		MaxOutputTokens: cfg.MaxOutputTokens,
	}

	_, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	return a, nil
}

// provideOtelShutdown sets up trace export before Genkit initialization so
// the TracerProvider is ready when flows run.
func provideOtelShutdown(ctx context.Context, cfg *config.Config) func() {
	if !cfg.Observability.Enabled {
		return func() {}
	}

	shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.Observability.Endpoint,
		Environment: cfg.Observability.Environment,
		ServiceName: cfg.Observability.ServiceName,
	})
	if err != nil {
		slog.Warn("setting up trace export, tracing disabled", "error", err)
		return func() {}
	}

	//nolint:contextcheck // independent context: shutdown runs during teardown when parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and creates a PostgreSQL connection pool
// with pgvector types registered on every connection.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// provideGenkit initializes Genkit with the configured provider plugin.
// Supports googleai (default), ollama, and openai providers.
func provideGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: "http://localhost:11434"}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery).
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, "http://localhost:11434", cfg.EmbedderModel, nil)
		slog.Info("initialized Genkit with ollama provider", "model", cfg.ModelName)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		slog.Info("initialized Genkit with openai provider", "model", cfg.ModelName)

	default: // googleai
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with googleai provider")
		}
		slog.Info("initialized Genkit with googleai provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider plugin.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, "http://localhost:11434")
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}
