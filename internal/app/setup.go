package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/ember0/ember/db"
	"github.com/ember0/ember/internal/agent/chat"
	"github.com/ember0/ember/internal/chunker"
	"github.com/ember0/ember/internal/config"
	"github.com/ember0/ember/internal/knowledge"
	"github.com/ember0/ember/internal/log"
	"github.com/ember0/ember/internal/mailer"
	"github.com/ember0/ember/internal/observability"
	"github.com/ember0/ember/internal/rag"
	"github.com/ember0/ember/internal/session"
	"github.com/ember0/ember/internal/tools"
)

// RetrieverName is the Genkit registry name of the documentation retriever.
const RetrieverName = "docs"

// Setup initializes the application. On error everything already
// initialized is torn down before returning.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing must be registered before genkit.Init so the exporter sees
	// every span Genkit produces.
	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, dbCleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool
	a.dbCleanup = dbCleanup

	g, err := provideGenkit(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}
	a.Embedder = embedder

	a.Knowledge = knowledge.New(pool, embedder, logger)
	a.Retriever = rag.New(a.Knowledge).DefineDocs(g, RetrieverName)
	a.Sessions = session.New(pool, logger)

	a.Mailer, err = mailer.New(mailer.Config{
		APIKey:  cfg.EmailAPIKey,
		BaseURL: cfg.EmailBaseURL,
		From:    cfg.EmailFrom,
	})
	if err != nil {
		return nil, fmt.Errorf("creating mailer: %w", err)
	}

	a.Tools, err = provideTools(g, a.Mailer, logger)
	if err != nil {
		return nil, err
	}

	a.Ingestor, err = provideIngestor(cfg, a.Knowledge, logger)
	if err != nil {
		return nil, err
	}

	a.Agent, err = chat.New(chat.Config{
		Genkit:        g,
		Conversations: a.Sessions,
		Retriever:     a.Retriever,
		Logger:        logger,
		Tools:         a.Tools,
		ModelName:     "googleai/" + cfg.ModelName,
		MaxTurns:      cfg.MaxTurns,
		HistoryWindow: int32(cfg.HistoryWindow),
		RAGTopK:       cfg.RAGTopK,
	})
	if err != nil {
		return nil, fmt.Errorf("creating agent: %w", err)
	}
	a.ChatFlow = chat.NewFlow(g, a.Agent)

	return a, nil
}

// provideOtelShutdown wires the OTLP exporter and wraps its shutdown
// with a bounded timeout for use during teardown.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Environment: cfg.Environment,
		ServiceName: cfg.ServiceName,
	})
	if err != nil {
		logger.Warn("tracing setup failed, continuing without traces", "error", err)
		return func() {}
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and opens the connection pool. pgvector
// types are registered per connection so embeddings bind natively.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.DatabaseURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}

// provideGenkit initializes Genkit with the Gemini plugin and the
// Dotprompt directory. GEMINI_API_KEY is read by the plugin itself.
func provideGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, error) {
	promptDir := cfg.PromptDir
	if promptDir == "" {
		promptDir = "prompts"
	}

	g := genkit.Init(ctx,
		genkit.WithPlugins(&googlegenai.GoogleAI{}),
		genkit.WithPromptDir(promptDir),
	)
	if g == nil {
		return nil, errors.New("initializing genkit")
	}
	return g, nil
}

func provideTools(g *genkit.Genkit, m *mailer.Client, logger log.Logger) ([]ai.Tool, error) {
	email, err := tools.NewEmail(m, logger)
	if err != nil {
		return nil, fmt.Errorf("creating email tools: %w", err)
	}
	registered, err := tools.RegisterEmail(g, email)
	if err != nil {
		return nil, fmt.Errorf("registering email tools: %w", err)
	}
	logger.Info("tools registered", "count", len(registered))
	return registered, nil
}

func provideIngestor(cfg *config.Config, store *knowledge.Store, logger log.Logger) (*rag.Ingestor, error) {
	ch, err := chunker.New(
		chunker.WithMaxChunkSize(cfg.ChunkSize),
		chunker.WithOverlap(cfg.ChunkOverlap),
	)
	if err != nil {
		return nil, fmt.Errorf("creating chunker: %w", err)
	}
	return rag.NewIngestor(store, ch, logger), nil
}
