// Package server exposes the read-only status API over HTTP: session and
// cycle state, open positions, the trade ledger, profit analytics, host
// health and Prometheus metrics. There are no mutating endpoints; the
// engine is driven by its own loop, never by a request.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/analytics"
	"github.com/quartzline/rudder/internal/config"
	"github.com/quartzline/rudder/internal/engine"
	"github.com/quartzline/rudder/internal/metrics"
	"github.com/quartzline/rudder/internal/portfolio"
	"github.com/quartzline/rudder/internal/store"
)

// Config carries the server's collaborators.
type Config struct {
	Log       zerolog.Logger
	Cfg       *config.Config
	Engine    *engine.Engine
	Store     store.Store
	Portfolio *portfolio.Portfolio
	Ledger    *analytics.Service
	Metrics   *metrics.Registry
}

// Server is the status HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	cfg    *config.Config
	eng    *engine.Engine
	st     store.Store
	pf     *portfolio.Portfolio
	ledger *analytics.Service
	met    *metrics.Registry
}

// New creates the server and wires its routes.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg.Cfg,
		eng:    cfg.Engine,
		st:     cfg.Store,
		pf:     cfg.Portfolio,
		ledger: cfg.Ledger,
		met:    cfg.Metrics,
	}

	s.setupMiddleware()
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Cfg.Server.Host, cfg.Cfg.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
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
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/metrics", promhttp.HandlerFor(s.met.Gatherer(), promhttp.HandlerOpts{}).ServeHTTP)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/positions", s.handlePositions)
		r.Get("/trades", s.handleTrades)
		r.Get("/analytics/summary", s.handleAnalyticsSummary)
		r.Get("/system", s.handleSystem)
	})
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting status server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down status server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
