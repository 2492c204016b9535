// Package logger provides structured logging for the messaging core.
//
// Every core component (workers, signals, the registry, the lock visitor) logs
// through the Logger interface. Components take an optional logger and fall back
// to the process-wide one, tagged with a "component" attribute.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
)

// Level is a logging threshold. Each step is four slog levels apart, so
// values past ErrorLevel silence everything.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = [...]string{"debug", "info", "warn", "error"}

func (l Level) String() string {
	if l < DebugLevel || int(l) >= len(levelNames) {
		return "unknown"
	}
	return levelNames[l]
}

// ParseLevel is case-insensitive and accepts "warning". Anything else is
// InfoLevel.
func ParseLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return WarnLevel
	}
	for i, name := range levelNames {
		if name == s {
			return Level(i)
		}
	}
	return InfoLevel
}

func (l Level) slog() slog.Level {
	return slog.LevelDebug + slog.Level(4*l)
}

func fromSlog(l slog.Level) Level {
	switch lv := Level((l - slog.LevelDebug) / 4); {
	case lv < DebugLevel:
		return DebugLevel
	case lv > ErrorLevel:
		return ErrorLevel
	default:
		return lv
	}
}

// Config holds logger configuration.
type Config struct {
	Level Level
	// Format is "json" (default) or "text".
	Format string
	// Output is "stdout", "stderr" or a file path opened for append.
	Output    string
	AddSource bool
}

// Logger is the interface for structured logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	With(args ...any) Logger
	WithContext(ctx context.Context) context.Context

	SetLevel(level Level)
	GetLevel() Level

	// Close releases the output file of a root logger.
	Close() error
}

// SlogLogger implements Logger on top of log/slog. Loggers derived with
// With share the level of their root.
type SlogLogger struct {
	sl    *slog.Logger
	level *slog.LevelVar
	out   io.Closer
}

// New opens cfg.Output and builds a logger on it. An output file that
// cannot be opened falls back to stdout, with a warning on the new logger.
func New(cfg *Config) Logger {
	if cfg == nil {
		cfg = &Config{Level: InfoLevel}
	}
	w, closer, err := openOutput(cfg.Output)
	l := NewWithWriter(w, cfg)
	l.out = closer
	if err != nil {
		l.Warn("Log output unavailable, using stdout", "output", cfg.Output, "error", err)
	}
	return l
}

// NewWithWriter builds a logger writing to w; cfg.Output is ignored.
func NewWithWriter(w io.Writer, cfg *Config) *SlogLogger {
	if cfg == nil {
		cfg = &Config{Level: InfoLevel}
	}
	lv := new(slog.LevelVar)
	lv.Set(cfg.Level.slog())

	opts := &slog.HandlerOptions{Level: lv, AddSource: cfg.AddSource, ReplaceAttr: renameMessage}
	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	return &SlogLogger{sl: slog.New(traceHandler{h}), level: lv}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return NewWithWriter(io.Discard, &Config{Level: ErrorLevel + 1})
}

func openOutput(output string) (io.Writer, io.Closer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return os.Stdout, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, f, nil
}

func renameMessage(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.MessageKey {
		a.Key = "message"
	}
	return a
}

// traceHandler stamps records logged with a span in their context with
// the trace and span identifiers.
type traceHandler struct {
	slog.Handler
}

func (h traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx == nil {
		return h.Handler.Handle(context.Background(), r)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{h.Handler.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{h.Handler.WithGroup(name)}
}

func (l *SlogLogger) Debug(msg string, args ...any) { l.sl.Debug(msg, args...) }
func (l *SlogLogger) Info(msg string, args ...any)  { l.sl.Info(msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.sl.Warn(msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.sl.Error(msg, args...) }

func (l *SlogLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.sl.DebugContext(ctx, msg, args...)
}

func (l *SlogLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.sl.InfoContext(ctx, msg, args...)
}

func (l *SlogLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.sl.WarnContext(ctx, msg, args...)
}

func (l *SlogLogger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.sl.ErrorContext(ctx, msg, args...)
}

func (l *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{sl: l.sl.With(args...), level: l.level}
}

// WithContext stores l in ctx for FromContext.
func (l *SlogLogger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, Logger(l))
}

// SetLevel changes the threshold of l, its root and every derived logger.
func (l *SlogLogger) SetLevel(level Level) { l.level.Set(level.slog()) }

func (l *SlogLogger) GetLevel() Level { return fromSlog(l.level.Level()) }

func (l *SlogLogger) Close() error {
	if l.out == nil {
		return nil
	}
	return l.out.Close()
}

type ctxKey struct{}

// FromContext returns the logger stored by WithContext, or the global one.
func FromContext(ctx context.Context) Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(Logger); ok {
			return l
		}
	}
	return Global()
}

var global atomic.Value

func init() {
	SetGlobal(NewWithWriter(os.Stderr, &Config{Level: InfoLevel, Format: "text"}))
}

// Global returns the process-wide logger.
func Global() Logger {
	return global.Load().(holder).Logger
}

// holder keeps atomic.Value storing a single concrete type.
type holder struct{ Logger }

// SetGlobal replaces the process-wide logger. Nil is ignored.
func SetGlobal(l Logger) {
	if l != nil {
		global.Store(holder{l})
	}
}

// Component returns the global logger tagged with a component name.
func Component(name string) Logger {
	return Global().With("component", name)
}

// OrComponent returns l, or Component(name) when l is nil.
func OrComponent(l Logger, name string) Logger {
	if l == nil {
		return Component(name)
	}
	return l
}

// SetLevel sets the level of the global logger.
func SetLevel(level Level) { Global().SetLevel(level) }

func Debug(msg string, args ...any) { Global().Debug(msg, args...) }
func Info(msg string, args ...any)  { Global().Info(msg, args...) }
func Warn(msg string, args ...any)  { Global().Warn(msg, args...) }
func Error(msg string, args ...any) { Global().Error(msg, args...) }

func DebugContext(ctx context.Context, msg string, args ...any) {
	Global().DebugContext(ctx, msg, args...)
}

func InfoContext(ctx context.Context, msg string, args ...any) {
	Global().InfoContext(ctx, msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	Global().WarnContext(ctx, msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	Global().ErrorContext(ctx, msg, args...)
}
