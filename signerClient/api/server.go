package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Server provides HTTP endpoints
type Server struct {
	node     SignerNode
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
	server   *http.Server
}

// NewServer creates a new Server instance. A nil gatherer disables /metrics.
func NewServer(node SignerNode, gatherer prometheus.Gatherer, logger zerolog.Logger, port int) *Server {
	s := &Server{
		node:     node,
		gatherer: gatherer,
		logger:   logger.With().Str("component", "api_server").Logger(),
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the router, for serving without a listener.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	if s.server == nil {
		return fmt.Errorf("query server is nil")
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind to address %s: %w", s.server.Addr, err)
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("API server listening")

	go func() {
		err := s.server.Serve(ln)
		switch err {
		case nil:
			s.logger.Info().Msg("API server stopped normally")
		case http.ErrServerClosed:
			s.logger.Info().Msg("API server closed gracefully")
		default:
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs every request with its status code and duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		ev := s.logger.Debug()
		if rw.statusCode >= http.StatusBadRequest {
			ev = s.logger.Warn()
		}
		ev.Str("method", r.Method).
			Str("uri", r.RequestURI).
			Dur("duration", time.Since(start)).
			Int("response_code", rw.statusCode).
			Msg("api")
	})
}

// responseWriter captures the response code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
