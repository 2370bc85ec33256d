// Package metrics serves the Prometheus scrape endpoint alongside the
// health endpoint on one operational port.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"gridbot/internal/core"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes /metrics and, when a health handler is supplied,
// /healthz.
type Server struct {
	port   int
	logger core.ILogger
	health http.Handler
	srv    *http.Server
}

// NewServer creates the operational HTTP server. health may be nil.
func NewServer(port int, health http.Handler, logger core.ILogger) *Server {
	return &Server{
		port:   port,
		health: health,
		logger: logger.WithField("component", "metrics_server"),
	}
}

// Start begins listening in the background.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if s.health != nil {
		mux.Handle("/healthz", s.health)
	}

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	go func() {
		s.logger.Info("Starting operational HTTP server", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Operational server failed", "error", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("Stopping operational server")
	return s.srv.Shutdown(ctx)
}
