// Command sightcore runs the reactive messaging core with its debug and
// introspection HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/IRCAD/sight-sub083/config"
	"github.com/IRCAD/sight-sub083/pkg/logger"
	"github.com/IRCAD/sight-sub083/pkg/version"
)

type options struct {
	configPath string
	watch      bool
	demo       bool
	version    bool
	debug      bool

	appName  string
	port     int
	grpcPort int
	storage  string
	logLevel string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("sightcore", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "configuration file (yaml or json)")
	fs.BoolVar(&o.watch, "watch", false, "reload log level and rate limits when the config file changes")
	fs.BoolVar(&o.demo, "demo", false, "run the demo image pipeline")
	fs.BoolVar(&o.version, "version", false, "print version information and exit")
	fs.BoolVar(&o.debug, "debug", false, "debug mode, implies -log-level debug")
	fs.StringVar(&o.appName, "app-name", "", "override app.name")
	fs.IntVar(&o.port, "port", 0, "override server.port")
	fs.IntVar(&o.grpcPort, "grpc-port", 0, "serve grpc.health.v1 on this port")
	fs.StringVar(&o.storage, "storage", "", "override storage.type (memory, badger, redis)")
	fs.StringVar(&o.logLevel, "log-level", "", "override log.level")
	fs.Usage = func() {
		fmt.Fprint(stderr, "sightcore - workers, signals and slots, and an object/service registry\n\n")
		fmt.Fprint(stderr, "Usage: sightcore [options]\n\n")
		fs.PrintDefaults()
		fmt.Fprint(stderr, `
Examples:
  sightcore -config config.yaml -watch
  sightcore -demo -storage badger
  sightcore -port 8081 -log-level debug
  sightcore -grpc-port 9090
`)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return o, nil
}

// overrides maps the flags that were set to configuration keys. They take
// precedence over the file and the environment.
func (o *options) overrides() map[string]any {
	out := map[string]any{}
	set := func(key string, v any, ok bool) {
		if ok {
			out[key] = v
		}
	}
	set("app.name", o.appName, o.appName != "")
	set("server.port", o.port, o.port != 0)
	set("server.grpc.enabled", true, o.grpcPort != 0)
	set("server.grpc.port", o.grpcPort, o.grpcPort != 0)
	set("storage.type", o.storage, o.storage != "")
	set("log.level", o.logLevel, o.logLevel != "")
	set("app.debug", true, o.debug)
	return out
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseFlags(args, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 2
	}
	if opts.version {
		fmt.Println(version.String())
		return 0
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(opts.configPath, opts.overrides())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		return 1
	}

	level := logger.ParseLevel(cfg.Log.Level)
	if cfg.App.Debug {
		level = logger.DebugLevel
	}
	log := logger.New(&logger.Config{Level: level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	logger.SetGlobal(log)
	defer log.Close()

	build := version.Info()
	log.Info("Starting sightcore",
		"version", build["version"],
		"git_commit", build["gitCommit"],
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)
	log.Debug("Configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize", "error", err)
		return 1
	}
	if opts.watch && opts.configPath != "" {
		if err := a.watchConfig(ctx, opts.configPath, loader); err != nil {
			log.Warn("Config hot reload disabled", "error", err)
		}
	}
	if opts.demo {
		if err := a.startDemo(ctx); err != nil {
			log.Error("Failed to start demo pipeline", "error", err)
		}
	}

	if err := a.run(ctx); err != nil {
		log.Error("sightcore stopped with error", "error", err)
		return 1
	}
	log.Info("sightcore stopped")
	return 0
}
