package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantrail/alertledger/internal/domain"
	"github.com/quantrail/alertledger/internal/server/handler"
	"github.com/quantrail/alertledger/internal/server/middleware"
	"github.com/quantrail/alertledger/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// Rate limiting applies when Limiter is non-nil.
	Limiter         domain.RateLimiter
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Portfolio *handler.PortfolioHandler
	Positions *handler.PositionHandler
	Fills     *handler.FillHandler
	Admin     *handler.AdminHandler
}

// Server is the headless HTTP + WebSocket API server for the ledger.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Portfolio valuation and history.
	mux.HandleFunc("GET /api/portfolio/value", handlers.Portfolio.CurrentValue)
	mux.HandleFunc("GET /api/portfolio/evolution", handlers.Portfolio.Evolution)
	mux.HandleFunc("GET /api/portfolio/return", handlers.Portfolio.PeriodReturn)

	// Position lifecycle.
	mux.HandleFunc("GET /api/positions", handlers.Positions.List)
	mux.HandleFunc("POST /api/positions", handlers.Positions.Open)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.Get)
	mux.HandleFunc("POST /api/positions/{id}/fills", handlers.Positions.RecordFill)
	mux.HandleFunc("POST /api/positions/{id}/close", handlers.Positions.Close)

	// Pool figures.
	mux.HandleFunc("GET /api/pools/{pool}", handlers.Positions.Pool)

	// Fill confirmation.
	mux.HandleFunc("POST /api/fills/{id}/execute", handlers.Fills.Execute)
	mux.HandleFunc("POST /api/fills/{id}/discard", handlers.Fills.Discard)

	// Corrective surface.
	mux.HandleFunc("POST /api/admin/positions/{id}/amend", handlers.Admin.Amend)
	mux.HandleFunc("POST /api/admin/positions/{id}/refold", handlers.Admin.Refold)
	mux.HandleFunc("POST /api/admin/pools/{pool}/initial-liquidity", handlers.Admin.SetInitialLiquidity)
	mux.HandleFunc("POST /api/admin/snapshots/materialize", handlers.Admin.Materialize)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	h = middleware.Auth(cfg.APIKey)(h)
	if cfg.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, cfg.RateLimitWindow)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
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
