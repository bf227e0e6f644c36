// Package server exposes the router over HTTP: plan building and
// monitoring, swap execution, breaker and venue status, the execution
// journal, Prometheus metrics and a WebSocket event stream.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/swaprouter/internal/crypto"
	"github.com/alanyoungcy/swaprouter/internal/domain"
	"github.com/alanyoungcy/swaprouter/internal/server/handler"
	"github.com/alanyoungcy/swaprouter/internal/server/middleware"
	"github.com/alanyoungcy/swaprouter/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty and Signer is disabled, authentication is off
	Signer      *crypto.HMACAuth

	// RateLimit is requests per RateWindow per client IP; zero disables it.
	RateLimit  int
	RateWindow time.Duration
	Limiter    domain.RateLimiter
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Nil handlers leave their routes unregistered.
type Handlers struct {
	Health     *handler.HealthHandler
	Plans      *handler.PlanHandler
	Swaps      *handler.SwapHandler
	Status     *handler.StatusHandler
	Executions *handler.ExecutionHandler
	Metrics    http.Handler
}

// Server is the headless HTTP + WebSocket API server for the swap router.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	api := http.NewServeMux()

	// Health, metrics and the event stream sit outside auth.
	if handlers.Health != nil {
		mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	if h := handlers.Plans; h != nil {
		api.HandleFunc("POST /api/plans", h.BuildPlan)
		api.HandleFunc("POST /api/plans/evaluate", h.EvaluatePlan)
		api.HandleFunc("POST /api/plans/{id}/monitor", h.StartMonitor)
		api.HandleFunc("DELETE /api/plans/{id}/monitor", h.StopMonitor)
	}
	if h := handlers.Swaps; h != nil {
		api.HandleFunc("POST /api/swaps", h.ExecuteSwap)
	}
	if h := handlers.Status; h != nil {
		api.HandleFunc("GET /api/breaker", h.GetBreaker)
		api.HandleFunc("GET /api/venues/health", h.GetVenueHealth)
	}
	if h := handlers.Executions; h != nil {
		api.HandleFunc("GET /api/executions", h.ListExecutions)
		api.HandleFunc("GET /api/executions/{id}", h.GetExecution)
		api.HandleFunc("GET /api/executions/{id}/report", h.GetReport)
	}

	var protected http.Handler = api
	protected = middleware.Auth(middleware.AuthConfig{APIKey: cfg.APIKey, Signer: cfg.Signer})(protected)
	if cfg.Limiter != nil && cfg.RateLimit > 0 {
		protected = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, cfg.RateWindow)(protected)
	}
	mux.Handle("/api/", protected)

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Swaps with TWAP slices can run for minutes.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
