package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func spanContext(flags trace.TraceFlags) context.Context {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{9, 8, 7, 6, 5, 4, 3, 2},
		TraceFlags: flags,
	})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestExemplar(t *testing.T) {
	ex := exemplar(spanContext(trace.FlagsSampled))
	require.NotNil(t, ex)
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", ex["trace_id"])
	assert.Equal(t, "0908070605040302", ex["span_id"])

	assert.Nil(t, exemplar(spanContext(0)), "unsampled spans carry no exemplar")
	assert.Nil(t, exemplar(context.Background()))
}

func TestObserveHTTP(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.ObserveHTTP(spanContext(trace.FlagsSampled), "GET", "/api/v1/registry", 200, time.Millisecond)
	m.ObserveHTTP(context.Background(), "GET", "/api/v1/registry", 200, time.Millisecond)
	m.ObserveHTTP(context.Background(), "GET", "/api/v1/registry", 503, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/v1/registry", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/v1/registry", "503")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.httpDuration))

	m.AddInFlight(2)
	m.AddInFlight(-1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpInFlight))
}

func TestRecordRPC(t *testing.T) {
	m := NewManager(DefaultConfig())
	const method = "/grpc.health.v1.Health/Check"
	m.RecordRPC(method, "unary", "OK", time.Millisecond)
	m.RecordRPC(method, "unary", "OK", time.Millisecond)
	m.RecordRPC(method, "unary", "NotFound", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.grpcRequests.WithLabelValues(method, "unary", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.grpcRequests.WithLabelValues(method, "unary", "NotFound")))

	NewManager(Config{Enabled: false}).RecordRPC(method, "unary", "OK", time.Millisecond)
}
