// Package server exposes the HTTP API and the session WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"newslens/internal/config"
	"newslens/internal/logger"
	"newslens/internal/session"
	"newslens/internal/store"
)

// Worker is the subset of the scheduler the API can poke.
type Worker interface {
	// TriggerFetch queues an immediate poll of one feed.
	TriggerFetch(feedID int64)
	// TriggerProcessing queues a pipeline pass over pending articles.
	TriggerProcessing()
}

// Server is the HTTP front of the aggregator.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	store      *store.Store
	worker     Worker
	streamer   *session.Streamer
	cfg        config.Config
	log        *slog.Logger
	startTime  time.Time
}

// New creates a Server. worker may be nil when the process runs API-only;
// the fetch and process endpoints then still accept but do nothing.
func New(st *store.Store, cfg config.Config, worker Worker, streamer *session.Streamer) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		store:     st,
		worker:    worker,
		streamer:  streamer,
		cfg:       cfg,
		log:       logger.Get(),
		startTime: time.Now(),
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // sessions hold the connection open
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "Accept-Language"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Get("/users", s.handleListUsers)

		r.Get("/feeds", s.handleListFeeds)
		r.Post("/feeds", s.handleSubscribe)

		r.Post("/fetch", s.handleFetch)
		r.Post("/process-pending", s.handleProcessPending)

		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
	})

	s.router.Get("/ws/chat", s.handleChatSocket)

	if dir := s.cfg.Server.StaticDir; dir != "" {
		s.router.Handle("/*", http.FileServer(http.Dir(dir)))
	}
}

// Start blocks serving requests until Shutdown or a listen failure.
func (s *Server) Start() error {
	s.log.Info("starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Router exposes the mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
