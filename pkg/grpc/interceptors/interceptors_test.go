package interceptors

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/IRCAD/sight-sub083/pkg/logger"
)

type testServerStream struct {
	ctx      context.Context
	recvMsgs []interface{}
	sendErr  error
	header   metadata.MD
}

func (t *testServerStream) Context() context.Context { return t.ctx }
func (t *testServerStream) SetHeader(md metadata.MD) error {
	t.header = metadata.Join(t.header, md)
	return nil
}
func (t *testServerStream) SendHeader(md metadata.MD) error {
	return nil
}
func (t *testServerStream) SetTrailer(md metadata.MD) {}
func (t *testServerStream) SendMsg(m interface{}) error {
	return t.sendErr
}
func (t *testServerStream) RecvMsg(m interface{}) error {
	if len(t.recvMsgs) == 0 {
		return io.EOF
	}
	next := t.recvMsgs[0]
	t.recvMsgs = t.recvMsgs[1:]
	val := reflect.ValueOf(m)
	if val.Kind() == reflect.Ptr && val.Elem().CanSet() {
		val.Elem().Set(reflect.ValueOf(next))
	}
	return nil
}

var unaryInfo = &grpc.UnaryServerInfo{FullMethod: "/sight.v1.Registry/Snapshot"}

func bufferLogger(level logger.Level) (logger.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return logger.NewWithWriter(&buf, &logger.Config{Level: level, Format: "json"}), &buf
}

func TestRecoveryUnaryInterceptor_Panic(t *testing.T) {
	log, buf := bufferLogger(logger.InfoLevel)
	interceptor := RecoveryUnaryInterceptor(log)
	_, err := interceptor(context.Background(), nil, unaryInfo, func(ctx context.Context, req interface{}) (interface{}, error) {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", status.Code(err))
	}
	if strings.Contains(status.Convert(err).Message(), "boom") {
		t.Fatal("panic value leaked to the caller")
	}
	if !strings.Contains(buf.String(), "Panic recovered") {
		t.Fatalf("panic not logged: %s", buf.String())
	}
}

func TestRecoveryStreamInterceptor_Panic(t *testing.T) {
	log, _ := bufferLogger(logger.ErrorLevel)
	interceptor := RecoveryStreamInterceptor(log)
	stream := &testServerStream{ctx: context.Background()}
	err := interceptor(nil, stream, &grpc.StreamServerInfo{FullMethod: "/svc/watch"}, func(srv interface{}, ss grpc.ServerStream) error {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", status.Code(err))
	}
}

func TestRequestIDUnaryInterceptor_Generates(t *testing.T) {
	interceptor := RequestIDUnaryInterceptor()
	ctx := metadata.NewIncomingContext(context.Background(), metadata.MD{})
	_, err := interceptor(ctx, nil, unaryInfo, func(ctx context.Context, req interface{}) (interface{}, error) {
		id, ok := RequestIDFromContext(ctx)
		if !ok || len(id) != 36 {
			t.Fatalf("request id = %q, want a generated uuid", id)
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestIDStreamInterceptor(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "propagates", incoming: "trace-42", keep: true},
		{name: "replaces control characters", incoming: "bad\nid", keep: false},
		{name: "replaces oversized", incoming: strings.Repeat("a", maxRequestIDLen+1), keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDKey, tt.incoming))
			stream := &testServerStream{ctx: ctx}

			var got string
			err := RequestIDStreamInterceptor()(nil, stream, &grpc.StreamServerInfo{FullMethod: "/svc/watch"}, func(srv interface{}, ss grpc.ServerStream) error {
				got, _ = RequestIDFromContext(ss.Context())
				return nil
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (got == tt.incoming) != tt.keep {
				t.Fatalf("request id = %q, incoming %q, keep %v", got, tt.incoming, tt.keep)
			}
			if h := stream.header.Get(RequestIDKey); len(h) != 1 || h[0] != got {
				t.Fatalf("response header = %v, want %q", h, got)
			}
		})
	}
}

func TestLoggingUnaryInterceptor(t *testing.T) {
	log, buf := bufferLogger(logger.DebugLevel)
	interceptor := LoggingUnaryInterceptor(log)

	ctx := withRequestID(context.Background(), "req-1")
	if _, err := interceptor(ctx, nil, unaryInfo, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"RPC completed", "/sight.v1.Registry/Snapshot", "req-1", `"code":"OK"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log %q does not contain %q", out, want)
		}
	}

	buf.Reset()
	_, err := interceptor(context.Background(), nil, unaryInfo, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "no such object")
	})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if !strings.Contains(buf.String(), "RPC rejected") || !strings.Contains(buf.String(), `"level":"WARN"`) {
		t.Fatalf("client error not logged as warning: %s", buf.String())
	}
}

type recordedRPC struct {
	method, kind, code string
}

type fakeRecorder struct {
	rpcs []recordedRPC
}

func (f *fakeRecorder) RecordRPC(method, kind, code string, _ time.Duration) {
	f.rpcs = append(f.rpcs, recordedRPC{method: method, kind: kind, code: code})
}

func TestMetricsInterceptors_Record(t *testing.T) {
	rec := &fakeRecorder{}

	_, _ = MetricsUnaryInterceptor(rec)(context.Background(), nil, unaryInfo, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.Unavailable, "down")
	})
	stream := &testServerStream{ctx: context.Background()}
	_ = MetricsStreamInterceptor(rec)(nil, stream, &grpc.StreamServerInfo{FullMethod: "/svc/watch"}, func(srv interface{}, ss grpc.ServerStream) error {
		return nil
	})

	want := []recordedRPC{
		{method: "/sight.v1.Registry/Snapshot", kind: KindUnary, code: "Unavailable"},
		{method: "/svc/watch", kind: KindStream, code: "OK"},
	}
	if !reflect.DeepEqual(rec.rpcs, want) {
		t.Fatalf("recorded %+v, want %+v", rec.rpcs, want)
	}
}

func TestChain(t *testing.T) {
	var empty Chain
	if opts := empty.ServerOptions(); len(opts) != 0 {
		t.Fatalf("empty chain built %d options", len(opts))
	}

	tests := []struct {
		name     string
		recorder MetricsRecorder
		traced   bool
		want     int
	}{
		{"bare", nil, false, 3},
		{"metrics", &fakeRecorder{}, false, 4},
		{"traced", &fakeRecorder{}, true, 5},
	}
	for _, tt := range tests {
		c := Standard(logger.Nop(), tt.recorder, tt.traced)
		if c.Len() != tt.want {
			t.Errorf("%s: %d interceptors, want %d", tt.name, c.Len(), tt.want)
		}
		if opts := c.ServerOptions(); len(opts) != 2 {
			t.Errorf("%s: %d server options, want 2", tt.name, len(opts))
		}
	}
}

func tracedIncoming(t *testing.T, prop propagation.TextMapPropagator) (context.Context, trace.SpanContext) {
	t.Helper()
	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x51, 0x67, 0x68, 0x74},
		SpanID:     trace.SpanID{0x0c, 0x0e},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	carrier := propagation.MapCarrier{}
	prop.Inject(trace.ContextWithSpanContext(context.Background(), parent), carrier)
	return metadata.NewIncomingContext(context.Background(), metadata.New(carrier)), parent
}

func TestTracingUnaryInterceptor(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	prop := propagation.TraceContext{}

	ctx, parent := tracedIncoming(t, prop)
	ctx = metadata.AppendToOutgoingContext(ctx, "x-caller", "registry")

	interceptor := TracingUnaryInterceptor(WithTracerProvider(tp), WithPropagator(prop))
	_, err := interceptor(ctx, nil, unaryInfo, func(ctx context.Context, req interface{}) (interface{}, error) {
		sc := trace.SpanContextFromContext(ctx)
		if sc.TraceID() != parent.TraceID() {
			t.Errorf("span is not a child of the caller's trace")
		}
		md, _ := metadata.FromOutgoingContext(ctx)
		if len(md.Get("traceparent")) == 0 || len(md.Get("x-caller")) == 0 {
			t.Errorf("outgoing metadata = %v", md)
		}
		return nil, status.Error(codes.NotFound, "no snapshot")
	})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != unaryInfo.FullMethod || span.SpanKind() != trace.SpanKindServer {
		t.Errorf("span %q kind %v", span.Name(), span.SpanKind())
	}
	if span.Parent().SpanID() != parent.SpanID() {
		t.Errorf("parent span = %v, want %v", span.Parent().SpanID(), parent.SpanID())
	}
	if span.Status().Code != otelcodes.Error || span.Status().Description != "NotFound" {
		t.Errorf("status = %+v", span.Status())
	}

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if attrs["rpc.service"].AsString() != "sight.v1.Registry" || attrs["rpc.method"].AsString() != "Snapshot" {
		t.Errorf("rpc attributes = %v", attrs)
	}
	if attrs["rpc.grpc.status_code"].AsInt64() != int64(codes.NotFound) {
		t.Errorf("status code attribute = %v", attrs["rpc.grpc.status_code"])
	}
}

func TestTracingStreamInterceptor_UsesGlobals(t *testing.T) {
	prevProvider := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevProp)
	})

	// Installed after the interceptor is built.
	interceptor := TracingStreamInterceptor()
	otel.SetTracerProvider(noop.NewTracerProvider())
	otel.SetTextMapPropagator(propagation.TraceContext{})

	ctx, parent := tracedIncoming(t, propagation.TraceContext{})
	stream := &testServerStream{ctx: ctx}
	err := interceptor(nil, stream, &grpc.StreamServerInfo{FullMethod: "/sight.v1.Registry/Watch"}, func(srv interface{}, ss grpc.ServerStream) error {
		if got := trace.SpanContextFromContext(ss.Context()); got.TraceID() != parent.TraceID() {
			return errors.New("stream context lost the caller's trace")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRPCAttributes(t *testing.T) {
	tests := []struct {
		in, service, method string
	}{
		{"/sight.v1.Registry/Snapshot", "sight.v1.Registry", "Snapshot"},
		{"/grpc.health.v1.Health/Check", "grpc.health.v1.Health", "Check"},
		{"noslash", "noslash", "unknown"},
		{"", "unknown", "unknown"},
	}
	for _, tt := range tests {
		attrs := rpcAttributes(tt.in)
		if attrs[1].Value.AsString() != tt.service || attrs[2].Value.AsString() != tt.method {
			t.Errorf("rpcAttributes(%q) = %v", tt.in, attrs)
		}
	}
}
