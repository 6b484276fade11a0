// Package app provides application initialization and dependency wiring.
//
// App is the container that orchestrates all components: Genkit, the
// database pool, the knowledge store, the session store, the analytics bus
// and the chat manager.
package app

import (
	"context"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/internal/analytics"
	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/knowledge"
	"github.com/parleyhq/parley/internal/modelclient"
	"github.com/parleyhq/parley/internal/prompt"
	"github.com/parleyhq/parley/internal/session"
)

// App is the core application container.
type App struct {
	Config *config.Config

	Genkit    *genkit.Genkit
	Embedder  ai.Embedder
	DBPool    *pgxpool.Pool
	Knowledge *knowledge.Store
	Analytics *analytics.Bus
	Sessions  *session.Store
	Manager   *chat.Manager
	Catalog   *prompt.Catalog

	ModelCfg modelclient.ModelConfig

	otelCleanup func()
	cancel      context.CancelFunc
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	slog.Info("shutting down application")

	if a.cancel != nil {
		a.cancel()
	}

	var firstErr error
	if a.Analytics != nil {
		if err := a.Analytics.Close(); err != nil {
			firstErr = err
			slog.Warn("closing analytics bus", "error", err)
		}
	}

	if a.DBPool != nil {
		a.DBPool.Close()
		slog.Info("database pool closed")
	}

	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return firstErr
}
