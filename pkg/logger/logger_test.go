package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decode(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		records = append(records, rec)
	}
	return records
}

func TestLevel_Names(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{" warn ", WarnLevel},
		{"Warning", WarnLevel},
		{"error", ErrorLevel},
		{"trace", InfoLevel},
		{"", InfoLevel},
	} {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "%q", tt.in)
	}

	for _, l := range []Level{DebugLevel, InfoLevel, WarnLevel, ErrorLevel} {
		assert.Equal(t, l, ParseLevel(l.String()))
	}
	assert.Equal(t, "unknown", Level(-1).String())
	assert.Equal(t, "unknown", (ErrorLevel + 1).String())
}

func TestLevel_SlogMapping(t *testing.T) {
	for _, l := range []Level{DebugLevel, InfoLevel, WarnLevel, ErrorLevel} {
		assert.Equal(t, l, fromSlog(l.slog()))
	}
	assert.Equal(t, ErrorLevel, fromSlog((ErrorLevel + 1).slog()))
	assert.Equal(t, DebugLevel, fromSlog(DebugLevel.slog()-8))
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, &Config{Level: InfoLevel})
	log.Info("slot failed", "signal", "modified")

	recs := decode(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "slot failed", recs[0]["message"])
	assert.Equal(t, "modified", recs[0]["signal"])
	assert.Equal(t, "INFO", recs[0]["level"])
	assert.NotContains(t, recs[0], "msg")
}

func TestSlogLogger_SharedLevel(t *testing.T) {
	var buf bytes.Buffer
	root := NewWithWriter(&buf, &Config{Level: InfoLevel, Format: "TEXT"})
	child := root.With("component", "worker")

	child.Debug("hidden")
	assert.Zero(t, buf.Len())

	child.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, root.GetLevel())
	child.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
	assert.Contains(t, buf.String(), "component=worker")
}

func TestSlogLogger_TraceFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, &Config{Level: DebugLevel}).With("component", "com")

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02},
		SpanID:     trace.SpanID{0x03},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	log.InfoContext(ctx, "with span")
	log.InfoContext(context.Background(), "without span")
	var noCtx context.Context
	log.WarnContext(noCtx, "nil context")

	recs := decode(t, &buf)
	require.Len(t, recs, 3)
	assert.Equal(t, sc.TraceID().String(), recs[0]["trace_id"])
	assert.Equal(t, sc.SpanID().String(), recs[0]["span_id"])
	assert.Equal(t, "com", recs[0]["component"])
	assert.NotContains(t, recs[1], "trace_id")
	assert.NotContains(t, recs[2], "trace_id")
}

func TestContext(t *testing.T) {
	log := Nop()
	assert.Same(t, log, FromContext(log.WithContext(context.Background())))
	assert.Same(t, Global(), FromContext(context.Background()))
}

func TestGlobal(t *testing.T) {
	previous := Global()
	t.Cleanup(func() { SetGlobal(previous) })

	var buf bytes.Buffer
	SetGlobal(NewWithWriter(&buf, &Config{Level: DebugLevel, Format: "text"}))
	Component("registry").Info("service registered")
	Debug("debug")
	InfoContext(context.Background(), "info")
	SetLevel(ErrorLevel)
	Warn("dropped")

	out := buf.String()
	assert.Contains(t, out, "component=registry")
	assert.Contains(t, out, "debug")
	assert.Contains(t, out, "info")
	assert.NotContains(t, out, "dropped")

	SetGlobal(nil)
	assert.NotNil(t, Global())
}

func TestOrComponent(t *testing.T) {
	nop := Nop()
	assert.Same(t, nop, OrComponent(nop, "worker"))
	assert.NotNil(t, OrComponent(nil, "worker"))
}

func TestNop(t *testing.T) {
	log := Nop()
	log.Error("discarded")
	assert.Equal(t, ErrorLevel, log.GetLevel())
	assert.NoError(t, log.Close())
}

func TestNew_Output(t *testing.T) {
	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "core.log")
		log := New(&Config{Level: InfoLevel, Output: path})
		log.With("component", "test").Info("written", "key", "value")
		require.NoError(t, log.With("component", "test").Close(), "derived loggers own nothing")
		require.NoError(t, log.Close())

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), `"key":"value"`)
	})

	t.Run("standard streams", func(t *testing.T) {
		for _, out := range []string{"", "stdout", "stderr"} {
			w, closer, err := openOutput(out)
			require.NoError(t, err)
			assert.NotNil(t, w)
			assert.Nil(t, closer, out)
		}
	})

	t.Run("unwritable path", func(t *testing.T) {
		w, closer, err := openOutput("/nonexistent/dir/core.log")
		require.Error(t, err)
		assert.Equal(t, os.Stdout, w)
		assert.Nil(t, closer)

		log := New(&Config{Level: ErrorLevel, Output: "/nonexistent/dir/core.log"})
		assert.NoError(t, log.Close())
	})
}
