// Package api serves dashboards over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/czcorpus/wag-sub001/internal/dashboard"
	"github.com/czcorpus/wag-sub001/internal/logging"
)

// Options tunes the server.
type Options struct {
	CORSOrigins []string
	ReadTimeout time.Duration
}

// Server represents the HTTP API server
type Server struct {
	router  *http.ServeMux
	server  *http.Server
	addr    string
	logger  *logging.Logger
	engine  *dashboard.Engine
	metrics *MetricsCollector
}

// NewServer creates a new HTTP server instance
func NewServer(addr string, engine *dashboard.Engine, logger *logging.Logger, opts Options) *Server {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 15 * time.Second
	}
	s := &Server{
		addr:    addr,
		logger:  logger.With(map[string]interface{}{"component": "api"}),
		engine:  engine,
		router:  http.NewServeMux(),
		metrics: NewMetricsCollector(),
	}

	s.registerRoutes()

	handler := s.applyMiddleware(s.router, opts)
	// no WriteTimeout, search streams stay open until the last tile
	s.server = &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: opts.ReadTimeout,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", map[string]interface{}{
		"addr": s.addr,
	})

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server", nil)

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server shut down successfully", nil)
	return nil
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

// applyMiddleware wraps the handler with middleware in the correct order
func (s *Server) applyMiddleware(handler http.Handler, opts Options) http.Handler {
	// last one wraps first
	handler = RecoveryMiddleware(s.logger)(handler)
	handler = LoggingMiddleware(s.logger)(handler)
	handler = RequestIDMiddleware()(handler)
	handler = CORSMiddleware(opts.CORSOrigins)(handler)
	return handler
}
