package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/IRCAD/sight-sub083/pkg/logger"
)

// DefaultDebounce is how long the watcher waits for a burst of file events
// to settle before reloading.
const DefaultDebounce = 500 * time.Millisecond

// ErrWatcherRunning is returned by Watch when the watcher already runs.
var ErrWatcherRunning = errors.New("config watcher is already running")

// Watcher reloads a config file when it changes on disk and hands every
// valid result to the registered listeners. Invalid files are logged and
// skipped; the last good config stays current.
//
// The parent directory is watched rather than the file, so editors that
// save by writing a temp file and renaming it over the original are seen.
type Watcher struct {
	loader   *Loader
	path     string
	abs      string
	debounce time.Duration
	log      logger.Logger

	fs       *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once

	mu        sync.RWMutex
	running   bool
	listeners []func(*Config)
	current   *Config
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the settle delay. Zero reloads on every event.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger used for reload reports.
func WithWatcherLogger(l logger.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher creates a watcher for path. Nothing is watched until Watch.
func NewWatcher(path string, loader *Loader, opts ...WatcherOption) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("config path is required for watching")
	}
	if loader == nil {
		loader = NewLoader()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		loader:   loader,
		path:     path,
		abs:      abs,
		debounce: DefaultDebounce,
		fs:       fsw,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = logger.OrComponent(w.log, "config")
	return w, nil
}

// OnChange registers fn. Listeners run one after the other on the watcher
// goroutine, in registration order.
func (w *Watcher) OnChange(fn func(*Config)) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// Current returns the last config applied by a reload, or nil.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Watch blocks until ctx is done or Stop is called. It fails right away
// when the file does not exist.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrWatcherRunning
	}
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	if _, err := os.Stat(w.abs); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	if err := w.fs.Add(filepath.Dir(w.abs)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	w.log.Debug("Config watcher started", "path", w.path, "debounce", w.debounce)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.abs || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C

		case <-fire:
			fire = nil
			_ = w.Reload()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("Config watcher error", "path", w.path, "error", err)
		}
	}
}

// Reload loads the file now and, when it is valid, notifies the listeners
// before returning. A listener panic is logged and does not stop the others.
func (w *Watcher) Reload() error {
	cfg, err := w.loader.Load(w.path, nil)
	if err != nil {
		w.log.Error("Failed to reload config", "path", w.path, "error", err)
		return err
	}

	w.mu.Lock()
	w.current = cfg
	listeners := make([]func(*Config), len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	for i, fn := range listeners {
		w.notify(i, fn, cfg)
	}
	return nil
}

func (w *Watcher) notify(i int, fn func(*Config), cfg *Config) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Config listener panicked", "listener", i, "panic", r)
		}
	}()
	fn(cfg)
}

// Stop ends Watch and releases the fsnotify handle. It is safe to call
// more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fs.Close()
	})
	return err
}

// IsRunning reports whether Watch is active.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// ConfigPath returns the path given to NewWatcher.
func (w *Watcher) ConfigPath() string {
	return w.path
}

// HotReloadableConfig is the part of Config a running process applies
// without a restart, plus the settings whose change is worth reporting.
type HotReloadableConfig struct {
	LogLevel       string
	LogFormat      string
	MetricsEnabled bool
	MetricsPath    string
	MetricsPort    int
	RateLimitRPS   float64
	RateLimitBurst int
}

// ExtractHotReloadable picks the hot-reloadable settings out of cfg.
func ExtractHotReloadable(cfg *Config) HotReloadableConfig {
	return HotReloadableConfig{
		LogLevel:       cfg.Log.Level,
		LogFormat:      cfg.Log.Format,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
		MetricsPort:    cfg.Metrics.Port,
		RateLimitRPS:   cfg.Server.RateLimit.RequestsPerSecond,
		RateLimitBurst: cfg.Server.RateLimit.Burst,
	}
}

// Changed reports whether any setting differs.
func (h HotReloadableConfig) Changed(other HotReloadableConfig) bool {
	return h != other
}

// Diff names the config keys that differ, in a stable order.
func (h HotReloadableConfig) Diff(other HotReloadableConfig) []string {
	var keys []string
	add := func(changed bool, key string) {
		if changed {
			keys = append(keys, key)
		}
	}
	add(h.LogLevel != other.LogLevel, "log.level")
	add(h.LogFormat != other.LogFormat, "log.format")
	add(h.MetricsEnabled != other.MetricsEnabled, "metrics.enabled")
	add(h.MetricsPath != other.MetricsPath, "metrics.path")
	add(h.MetricsPort != other.MetricsPort, "metrics.port")
	add(h.RateLimitRPS != other.RateLimitRPS, "server.rate_limit.requests_per_second")
	add(h.RateLimitBurst != other.RateLimitBurst, "server.rate_limit.burst")
	return keys
}

// RestartRequired reports whether a change in other cannot be applied live.
func (h HotReloadableConfig) RestartRequired(other HotReloadableConfig) bool {
	return h.LogFormat != other.LogFormat ||
		h.MetricsEnabled != other.MetricsEnabled ||
		h.MetricsPath != other.MetricsPath ||
		h.MetricsPort != other.MetricsPort
}
