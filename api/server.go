package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/agrosense/agrosense/tool"
)

// ServerOptions holds the HTTP server tuning.
type ServerOptions struct {
	Addr            string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	StreamBuffer    int
}

// Server is the HTTP front of the orchestrator.
type Server struct {
	http   *http.Server
	health *HealthHandler
	opts   ServerOptions
	logger *zap.Logger
}

// NewServer wires the routes. tools is used for the read-only tool
// catalog endpoint; runner drives queries.
func NewServer(runner QueryRunner, tools *tool.Registry, health *HealthHandler, opts ServerOptions, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 15 * time.Second
	}

	query := NewQueryHandler(runner, opts.StreamBuffer, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/query", query.HandleSSE)
	mux.HandleFunc("/v1/query/ws", query.HandleWebSocket)
	mux.HandleFunc("/v1/tools", func(w http.ResponseWriter, r *http.Request) {
		writeSuccess(w, tools.Schemas())
	})
	mux.Handle("/healthz", health)
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		http: &http.Server{
			Addr:        opts.Addr,
			Handler:     mux,
			ReadTimeout: opts.ReadTimeout,
			// WriteTimeout would cut long SSE streams; the per-query
			// deadline already bounds them.
			WriteTimeout: 0,
		},
		health: health,
		opts:   opts,
		logger: logger.With(zap.String("component", "http_server")),
	}
}

// Handler exposes the routed handler, used by tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ShutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	return s.http.Shutdown(ctx)
}
