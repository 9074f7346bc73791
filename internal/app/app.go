// Package app provides application initialization and dependency
// wiring.
//
// App is the container that owns every long-lived component: Genkit,
// the database pool, the document index, the memory store, the
// ingestion pipeline, and the retrieval engine. Setup builds them in
// dependency order; Close releases them in reverse.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sage0/sage/internal/config"
	"github.com/sage0/sage/internal/index"
	"github.com/sage0/sage/internal/ingest"
	"github.com/sage0/sage/internal/llm"
	"github.com/sage0/sage/internal/memory"
	"github.com/sage0/sage/internal/retrieval"
)

// App is the core application container.
type App struct {
	Config *config.Config

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	Index    *index.Store
	Memories *memory.Store
	LLM      *llm.Client
	Pipeline *ingest.Pipeline
	Engine   *retrieval.Engine

	otelCleanup func()
}

// Close gracefully shuts down all resources. Safe to call on a
// partially initialized App.
func (a *App) Close() error {
	slog.Debug("shutting down application")

	if a.Engine != nil {
		if err := a.Engine.Close(); err != nil {
			slog.Warn("draining retrieval engine", "error", err)
		}
	}
	if a.DBPool != nil {
		a.DBPool.Close()
		slog.Debug("database pool closed")
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}
