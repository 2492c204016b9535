package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/IRCAD/sight-sub083/pkg/grpc/interceptors"
	"github.com/IRCAD/sight-sub083/pkg/logger"
)

// ErrAlreadyRunning is returned by Start on a running server.
var ErrAlreadyRunning = errors.New("grpc server already running")

// Server is the gRPC endpoint of the process. It serves the standard
// health protocol, fed by the probes registered on its HealthServer.
type Server struct {
	config   *Config
	log      logger.Logger
	recorder interceptors.MetricsRecorder
	health   *HealthServer

	mu       sync.RWMutex
	srv      *grpc.Server
	lis      net.Listener
	stopLoop context.CancelFunc
	loopDone chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records every RPC into recorder.
func WithMetrics(recorder interceptors.MetricsRecorder) Option {
	return func(s *Server) { s.recorder = recorder }
}

// WithHealthServer serves h instead of a fresh health server.
func WithHealthServer(h *HealthServer) Option {
	return func(s *Server) {
		if h != nil {
			s.health = h
		}
	}
}

// New validates cfg and builds a stopped server.
func New(cfg *Config, log logger.Logger, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("grpc: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("grpc: invalid config: %w", err)
	}

	s := &Server{config: cfg, log: logger.OrComponent(log, "grpc")}
	for _, opt := range opts {
		opt(s)
	}
	if s.health == nil {
		s.health = NewHealthServer(s.log)
	}
	return s, nil
}

// Health returns the health server fed by the probes.
func (s *Server) Health() *HealthServer { return s.health }

// Start binds the listener, then serves and probes in the background.
// Bind and TLS errors are returned; later serve errors are logged.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return ErrAlreadyRunning
	}

	opts, err := s.serverOptions()
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("grpc: listen on %s: %w", s.config.Address, err)
	}

	srv := grpc.NewServer(opts...)
	grpc_health_v1.RegisterHealthServer(srv, s.health.GetServer())
	if s.config.EnableReflection {
		reflection.Register(srv)
	}

	interval := s.config.ProbeInterval
	if interval <= 0 {
		interval = DefaultConfig().ProbeInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.health.Run(ctx, interval)
	}()

	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.log.Error("gRPC server error", "error", err)
		}
	}()

	s.srv, s.lis, s.stopLoop, s.loopDone = srv, lis, cancel, done
	s.log.Info("gRPC server listening",
		"address", lis.Addr().String(),
		"probes", s.health.Services(),
		"interval", interval,
		"tls", s.config.TLS != nil && s.config.TLS.Enabled,
	)
	return nil
}

// Stop ends the probe loop, marks every service NOT_SERVING so watchers
// see the shutdown, then drains in-flight RPCs until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	srv := s.srv

	s.stopLoop()
	<-s.loopDone
	s.health.Shutdown()
	s.srv, s.stopLoop, s.loopDone = nil, nil, nil

	drained := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(drained)
	}()
	select {
	case <-drained:
		s.log.Info("gRPC server stopped")
		return nil
	case <-ctx.Done():
		srv.Stop()
		return fmt.Errorf("grpc: graceful stop: %w", ctx.Err())
	}
}

// Address returns the bound address once started, the configured one
// before.
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lis != nil {
		return s.lis.Addr().String()
	}
	return s.config.Address
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.srv != nil
}

func (s *Server) serverOptions() ([]grpc.ServerOption, error) {
	cfg := s.config
	var opts []grpc.ServerOption

	if cfg.TLS != nil && cfg.TLS.Enabled {
		creds, err := cfg.TLS.credentials()
		if err != nil {
			return nil, fmt.Errorf("grpc: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}
	if cfg.MaxConnections > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(uint32(cfg.MaxConnections)))
	}
	if cfg.Keepalive != nil {
		opts = append(opts, cfg.Keepalive.serverOptions()...)
	}
	if cfg.MaxRecvMsgSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(cfg.MaxRecvMsgSize))
	}
	if cfg.MaxSendMsgSize > 0 {
		opts = append(opts, grpc.MaxSendMsgSize(cfg.MaxSendMsgSize))
	}

	return append(opts, interceptors.Standard(s.log, s.recorder, cfg.EnableTracing).ServerOptions()...), nil
}
