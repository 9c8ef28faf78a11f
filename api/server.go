// Package api exposes the Ember support agent over HTTP.
//
// Endpoints:
//
//	POST /api/chat                         - synchronous chat (genkit.Handler)
//	POST /api/chat/stream                  - streaming chat (Server-Sent Events)
//	POST /api/conversations                - create a conversation
//	GET  /api/conversations                - list a user's conversations
//	GET  /api/conversations/{id}           - fetch one conversation
//	GET  /api/conversations/{id}/messages  - list conversation messages
//	DELETE /api/conversations/{id}         - delete a conversation
//	GET  /health                           - liveness probe
//	GET  /ready                            - readiness probe (pings the database)
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ember0/ember/internal/agent/chat"
	"github.com/ember0/ember/internal/log"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:3400"

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout guards against Slowloris-style clients.
	ReadHeaderTimeout = 10 * time.Second
	ReadTimeout       = 30 * time.Second
	WriteTimeout      = 60 * time.Second
	IdleTimeout       = 120 * time.Second
)

// Server is the HTTP server for the support API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	health        *HealthHandler
	conversations *ConversationHandler
	chat          *ChatHandler
}

// NewServer creates the HTTP server with all routes registered. chatFlow
// comes from chat.NewFlow and backs the /api/chat endpoints.
func NewServer(db Pinger, store ConversationStore, chatFlow *chat.Flow, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	mux := http.NewServeMux()

	s := &Server{
		mux:           mux,
		logger:        logger,
		health:        NewHealthHandler(db, logger),
		conversations: NewConversationHandler(store, logger),
		chat:          NewChatHandler(chatFlow, logger),
	}

	s.health.RegisterRoutes(mux)
	s.conversations.RegisterRoutes(mux)
	s.chat.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery -> logging -> handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware(s.logger), loggingMiddleware(s.logger))
}

// Run starts the server and blocks until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
