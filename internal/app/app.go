// Package app assembles the application: configuration, database pool,
// Genkit, knowledge store, conversation store, mailer, tools, and the
// chat agent. Setup wires everything; Close releases it in reverse order.
package app

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ember0/ember/internal/agent/chat"
	"github.com/ember0/ember/internal/config"
	"github.com/ember0/ember/internal/knowledge"
	"github.com/ember0/ember/internal/log"
	"github.com/ember0/ember/internal/mailer"
	"github.com/ember0/ember/internal/rag"
	"github.com/ember0/ember/internal/session"
)

// App is the application container. Fields are populated by Setup and
// remain valid until Close.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	DBPool   *pgxpool.Pool
	Embedder ai.Embedder

	Knowledge *knowledge.Store
	Retriever ai.Retriever
	Sessions  *session.Store
	Mailer    *mailer.Client
	Tools     []ai.Tool

	Agent    *chat.Agent
	ChatFlow *chat.Flow
	Ingestor *rag.Ingestor

	dbCleanup   func()
	otelCleanup func()
}

// Close releases all resources. Safe to call after a partially failed
// Setup: only initialized components are torn down.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	if a.dbCleanup != nil {
		a.dbCleanup()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return nil
}
