package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"

	"github.com/IRCAD/sight-sub083/config"
	"github.com/IRCAD/sight-sub083/pkg/api"
	"github.com/IRCAD/sight-sub083/pkg/api/events"
	"github.com/IRCAD/sight-sub083/pkg/api/handlers"
	"github.com/IRCAD/sight-sub083/pkg/api/middleware"
	grpcserver "github.com/IRCAD/sight-sub083/pkg/grpc"
	"github.com/IRCAD/sight-sub083/pkg/logger"
	"github.com/IRCAD/sight-sub083/pkg/metrics"
	"github.com/IRCAD/sight-sub083/pkg/registry"
	"github.com/IRCAD/sight-sub083/pkg/storage"
	"github.com/IRCAD/sight-sub083/pkg/storage/badger"
	"github.com/IRCAD/sight-sub083/pkg/storage/memory"
	redisstore "github.com/IRCAD/sight-sub083/pkg/storage/redis"
	"github.com/IRCAD/sight-sub083/pkg/telemetry/tracing"
	"github.com/IRCAD/sight-sub083/pkg/version"
	"github.com/IRCAD/sight-sub083/pkg/worker"
)

// app holds every long-lived component of the process.
type app struct {
	cfg *config.Config
	log logger.Logger

	registry *registry.Registry
	workers  *worker.Manager
	store    *storage.Instrumented
	metrics  *metrics.Manager
	tracing  tracing.ShutdownFunc

	events    *events.Broadcaster
	feed      *events.RegistryFeed
	websocket *handlers.WebSocketHandler
	limiter   *middleware.RateLimiter
	server    *api.HTTPServer
	grpc      *grpcserver.Server

	watcher *config.Watcher
	demo    *demoPipeline

	mu  sync.Mutex
	hot config.HotReloadableConfig
}

// newApp builds the process components from cfg. On error, everything
// built so far is released.
func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (a *app, err error) {
	a = &app{
		cfg: cfg,
		log: log,
		hot: config.ExtractHotReloadable(cfg),
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.close(context.Background()))
			a = nil
		}
	}()

	a.metrics = metrics.NewManager(metricsConfig(cfg.Metrics))
	a.metrics.Install()

	if cfg.Tracing.Enabled {
		a.tracing, err = tracing.Init(ctx, cfg.Tracing, cfg.App.Name, version.Version,
			attribute.String("deployment.environment", cfg.App.Environment))
		if err != nil {
			return a, fmt.Errorf("init tracing: %w", err)
		}
	}

	a.registry = registry.Init(
		registry.WithLogger(logger.OrComponent(log, "registry")),
		registry.WithAsyncEvents(cfg.Registry.AsyncEvents),
	)

	a.workers = worker.NewManager(log)
	for _, name := range cfg.Workers.Names {
		a.workers.Get(name)
	}

	a.store, err = openStorage(cfg.Storage, log)
	if err != nil {
		return a, err
	}

	a.events = events.NewBroadcaster()
	a.feed = events.NewRegistryFeed(a.registry, a.workers.Get(cfg.Registry.EventWorker), a.events)
	a.websocket = handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{
		AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
		MaxConnections: cfg.Server.WebSocket.MaxClients,
		SendBuffer:     cfg.Server.WebSocket.SendBuffer,
		PingInterval:   cfg.Server.WebSocket.PingInterval,
		WriteTimeout:   cfg.Server.WebSocket.WriteTimeout,
	})
	a.websocket.Attach(a.events)

	if cfg.Server.RateLimit.Enabled {
		a.limiter = middleware.NewRateLimiter(cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.Burst)
	}

	h := &api.Handlers{
		Health:      handlers.NewHealthHandler(a.registry, a.workers, a.store),
		Registry:    handlers.NewRegistryHandler(a.registry),
		Workers:     handlers.NewWorkerHandler(a.workers),
		Snapshots:   handlers.NewSnapshotHandler(a.registry, a.store, log),
		WebSocket:   a.websocket,
		RateLimiter: a.limiter,
	}
	if a.metrics.Enabled() {
		h.Metrics = a.metrics
		h.MetricsHandler = a.metrics.Handler()
	}
	a.server = api.NewHTTPServer(cfg, log, h)

	if cfg.Server.GRPC.Enabled {
		a.grpc, err = a.newGRPCServer()
		if err != nil {
			return a, err
		}
	}

	return a, nil
}

// newGRPCServer builds the gRPC health endpoint and its probes.
func (a *app) newGRPCServer() (*grpcserver.Server, error) {
	gc := a.cfg.Server.GRPC.ToGRPCConfig(a.cfg.Server.Host)
	gc.EnableTracing = gc.EnableTracing && a.cfg.Tracing.Enabled

	var opts []grpcserver.Option
	if a.metrics.Enabled() {
		opts = append(opts, grpcserver.WithMetrics(a.metrics))
	}
	srv, err := grpcserver.New(gc, a.log, opts...)
	if err != nil {
		return nil, fmt.Errorf("create grpc server: %w", err)
	}

	health := srv.Health()
	health.AddProbe("sight.registry", a.probeEventWorker)
	health.AddProbe("sight.workers", a.probeWorkers)
	health.AddProbe("sight.storage", a.store.Ping)
	return srv, nil
}

// probeEventWorker fails when registry observers can no longer run.
func (a *app) probeEventWorker(context.Context) error {
	w, err := a.workers.Lookup(a.cfg.Registry.EventWorker)
	if err != nil {
		return err
	}
	if !w.Stats().Running {
		return fmt.Errorf("event worker %s stopped", w.Name())
	}
	return nil
}

func (a *app) probeWorkers(context.Context) error {
	for _, st := range a.workers.Stats() {
		if !st.Running {
			return fmt.Errorf("worker %s stopped", st.Name)
		}
	}
	return nil
}

func metricsConfig(cfg config.MetricsConfig) metrics.Config {
	mc := metrics.DefaultConfig()
	mc.Enabled = cfg.Enabled
	mc.Port = cfg.Port
	mc.Path = cfg.Path
	return mc
}

// openStorage opens the configured snapshot backend, instrumented.
func openStorage(cfg config.StorageConfig, log logger.Logger) (*storage.Instrumented, error) {
	var (
		store storage.Storage
		err   error
	)
	switch cfg.Type {
	case "badger":
		store, err = badger.Open(cfg.Badger, log)
		if err != nil {
			return nil, fmt.Errorf("open badger storage: %w", err)
		}
		log.Info("Initialized Badger storage", "path", cfg.Badger.Path, "in_memory", cfg.Badger.InMemory)
	case "redis":
		client := redisstore.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store, err = redisstore.NewRedisStorage(client, &redisstore.Config{
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		}, log)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("open redis storage: %w", err)
		}
		log.Info("Initialized Redis storage", "address", cfg.Redis.Address, "db", cfg.Redis.DB)
	case "memory", "":
		store = memory.NewMemoryStorage()
		log.Info("Initialized memory storage")
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
	backend := cfg.Type
	if backend == "" {
		backend = "memory"
	}
	return storage.Instrument(store, backend), nil
}

// run serves until ctx ends or a server fails, then shuts everything down.
func (a *app) run(ctx context.Context) error {
	serverErr := make(chan error, 2)

	if a.cfg.Server.Enabled {
		go func() {
			if err := a.server.Start(); err != nil {
				serverErr <- err
			}
		}()
	}
	if a.grpc != nil {
		if err := a.grpc.Start(); err != nil {
			serverErr <- fmt.Errorf("grpc server: %w", err)
		}
	}
	if a.metrics.Enabled() && a.cfg.Metrics.Port != a.cfg.Server.Port {
		go func() {
			a.log.Info("Starting metrics server", "port", a.cfg.Metrics.Port, "path", a.cfg.Metrics.Path)
			if err := a.metrics.StartServer(ctx, a.cfg.Metrics.Port, a.cfg.Metrics.Path); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	a.log.Info("sightcore is running",
		"http", net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.Port)),
		"metrics_port", a.cfg.Metrics.Port,
		"storage", a.store.Backend(),
	)

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("Received shutdown signal")
	case runErr = <-serverErr:
		a.log.Error("Server error", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.HTTP.ShutdownTimeout)
	defer cancel()
	return multierr.Append(runErr, a.close(shutdownCtx))
}

// close stops the components in reverse start order. Nil components are
// skipped, so a partially built app can be closed.
func (a *app) close(ctx context.Context) error {
	var errs error

	if a.watcher != nil {
		errs = multierr.Append(errs, a.watcher.Stop())
	}
	if a.grpc != nil {
		errs = multierr.Append(errs, a.grpc.Stop(ctx))
	}
	if a.server != nil && a.cfg.Server.Enabled {
		errs = multierr.Append(errs, a.server.Shutdown(ctx))
	}
	if a.demo != nil {
		errs = multierr.Append(errs, a.demo.stop())
	}
	if a.feed != nil {
		a.feed.Close()
	}
	if a.websocket != nil {
		a.websocket.Close()
	}
	if a.events != nil {
		a.events.Close()
	}
	if a.workers != nil {
		stopCtx, cancel := context.WithTimeout(ctx, a.cfg.Workers.StopTimeout)
		errs = multierr.Append(errs, a.workers.StopAll(stopCtx))
		cancel()
	}
	if a.store != nil {
		errs = multierr.Append(errs, a.store.Close())
	}
	if a.registry != nil {
		registry.Teardown()
	}
	if a.tracing != nil {
		errs = multierr.Append(errs, a.tracing(ctx))
	}
	if a.metrics != nil {
		metrics.Uninstall()
	}
	return errs
}

// watchConfig applies hot-reloadable settings whenever path changes.
func (a *app) watchConfig(ctx context.Context, path string, loader *config.Loader) error {
	w, err := config.NewWatcher(path, loader, config.WithWatcherLogger(a.log))
	if err != nil {
		return err
	}
	w.OnChange(a.reload)
	a.watcher = w

	go func() {
		if err := w.Watch(ctx); err != nil {
			a.log.Warn("Config watcher stopped", "error", err)
		}
	}()
	a.log.Info("Watching configuration", "path", path)
	return nil
}

// reload applies the hot-reloadable part of cfg. Other changes need a
// restart and are only reported.
func (a *app) reload(cfg *config.Config) {
	next := config.ExtractHotReloadable(cfg)

	a.mu.Lock()
	prev := a.hot
	a.hot = next
	a.mu.Unlock()

	changed := prev.Diff(next)
	if len(changed) == 0 {
		return
	}
	if next.LogLevel != prev.LogLevel {
		a.log.SetLevel(logger.ParseLevel(next.LogLevel))
	}
	if a.limiter != nil && (next.RateLimitRPS != prev.RateLimitRPS || next.RateLimitBurst != prev.RateLimitBurst) {
		a.limiter.SetLimit(next.RateLimitRPS, next.RateLimitBurst)
	}
	if prev.RestartRequired(next) {
		a.log.Warn("Some configuration changes need a restart", "changed", changed)
	}
	a.log.Info("Configuration reloaded",
		"changed", changed,
		"log_level", next.LogLevel,
		"rate_limit_rps", next.RateLimitRPS,
		"rate_limit_burst", next.RateLimitBurst,
	)
}
