// Package server provides the read-only HTTP status surface over the
// running swarm: health, system load, agent stats, live signals, the
// position ledger and the resource table.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/swarmlab/apiary/internal/environment"
	"github.com/swarmlab/apiary/internal/journal"
	"github.com/swarmlab/apiary/internal/swarm"
	"github.com/swarmlab/apiary/pkg/logger"
)

// TradeJournal is the subset of the trade journal the server reads.
type TradeJournal interface {
	Health(ctx context.Context) error
	ClosedTrades(ctx context.Context, limit int) ([]journal.ClosedTrade, error)
}

// Config holds server configuration
type Config struct {
	Log          zerolog.Logger
	Env          *environment.Environment
	Orchestrator *swarm.Orchestrator
	Journal      TradeJournal // optional; enables /api/trades and deep health
	Port         int
	DevMode      bool
}

// Server represents the HTTP server
type Server struct {
	router       *chi.Mux
	server       *http.Server
	log          zerolog.Logger
	env          *environment.Environment
	orchestrator *swarm.Orchestrator
	journal      TradeJournal
	startupTime  time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		log:          logger.Component(cfg.Log, "server"),
		env:          cfg.Env,
		orchestrator: cfg.Orchestrator,
		journal:      cfg.Journal,
		startupTime:  time.Now(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/system", s.handleSystem)
	s.router.Get("/api/swarm", s.handleSwarm)
	s.router.Get("/api/signals", s.handleSignals)
	s.router.Get("/api/positions", s.handlePositions)
	s.router.Get("/api/allocations", s.handleAllocations)
	s.router.Get("/api/report", s.handleReport)
	if s.journal != nil {
		s.router.Get("/api/trades", s.handleTrades)
	}
}

// Start begins listening. Blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}

// Router exposes the mux for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
