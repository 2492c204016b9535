package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/IRCAD/sight-sub083/config"
	"github.com/IRCAD/sight-sub083/pkg/logger"
)

// HTTPServer serves the REST API, the registry event stream and, when
// metrics share the API port, the scrape endpoint.
type HTTPServer struct {
	http *http.Server
	log  logger.Logger
}

// NewHTTPServer builds the router and the server around it. Nothing listens
// until Start or Serve.
func NewHTTPServer(cfg *config.Config, log logger.Logger, handlers *Handlers) *HTTPServer {
	log = logger.OrComponent(log, "api")
	hc := cfg.Server.HTTP
	return &HTTPServer{
		log: log,
		http: &http.Server{
			Addr:           net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
			Handler:        NewRouter(cfg, log, handlers),
			ReadTimeout:    hc.ReadTimeout,
			WriteTimeout:   hc.WriteTimeout,
			IdleTimeout:    hc.IdleTimeout,
			MaxHeaderBytes: hc.MaxHeaderBytes,
		},
	}
}

// Handler returns the router.
func (s *HTTPServer) Handler() http.Handler { return s.http.Handler }

// Addr returns the configured listen address.
func (s *HTTPServer) Addr() string { return s.http.Addr }

// Start listens on the configured address and serves until Shutdown.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("http: listen on %s: %w", s.http.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown, after which it returns nil.
func (s *HTTPServer) Serve(ln net.Listener) error {
	s.log.Info("HTTP server listening",
		"addr", ln.Addr().String(),
		"read_timeout", s.http.ReadTimeout,
		"write_timeout", s.http.WriteTimeout,
	)
	err := s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("http: serve: %w", err)
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx ends. Hijacked websocket connections are not waited for.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("http: shutdown: %w", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}
