package api

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the query server.
type Options struct {
	Port       int
	TxLogPath  string
	CORSOrigin string
	Metrics    http.Handler
}

// Server provides the read-only HTTP endpoints
type Server struct {
	logger zerolog.Logger
	status StatusProvider
	opts   Options
	server *http.Server
}

// NewServer creates a new Server instance. status and opts.Metrics may be nil.
func NewServer(logger zerolog.Logger, status StatusProvider, opts Options) *Server {
	s := &Server{
		logger: logger.With().Str("component", "query_server").Logger(),
		status: status,
		opts:   opts,
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start binds the port and serves in the background.
func (s *Server) Start() error {
	if s.server == nil {
		return fmt.Errorf("query server is nil")
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind to address %s: %w", s.server.Addr, err)
	}

	go func() {
		err := s.server.Serve(ln)
		switch err {
		case nil:
			s.logger.Info().Msg("query server stopped normally")
		case http.ErrServerClosed:
			s.logger.Info().Msg("query server closed gracefully")
		default:
			s.logger.Error().Err(err).Msg("query server error")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("query server listening")
	return nil
}

// Stop shuts the HTTP server down
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
