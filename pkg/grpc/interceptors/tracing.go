package interceptors

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const tracerName = "github.com/IRCAD/sight-sub083/pkg/grpc"

// TracingOption configures the tracing interceptors.
type TracingOption func(*tracingConfig)

type tracingConfig struct {
	provider   trace.TracerProvider
	propagator propagation.TextMapPropagator
}

// WithTracerProvider uses tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) TracingOption {
	return func(c *tracingConfig) { c.provider = tp }
}

// WithPropagator uses p instead of the global propagator.
func WithPropagator(p propagation.TextMapPropagator) TracingOption {
	return func(c *tracingConfig) { c.propagator = p }
}

func newTracingConfig(opts []TracingOption) *tracingConfig {
	c := &tracingConfig{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// The globals are read per call so a provider installed after the server
// was built is still used.
func (c *tracingConfig) tracer() trace.Tracer {
	tp := c.provider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(tracerName)
}

func (c *tracingConfig) textMap() propagation.TextMapPropagator {
	if c.propagator != nil {
		return c.propagator
	}
	return otel.GetTextMapPropagator()
}

// start continues the caller's trace, opens a server span and puts the
// new span context in the outgoing metadata for calls made by the handler.
func (c *tracingConfig) start(ctx context.Context, method string) (context.Context, trace.Span) {
	prop := c.textMap()
	in, _ := metadata.FromIncomingContext(ctx)
	ctx = prop.Extract(ctx, mdCarrier(in))

	ctx, span := c.tracer().Start(ctx, method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(rpcAttributes(method)...),
	)

	out, ok := metadata.FromOutgoingContext(ctx)
	if ok {
		out = out.Copy()
	} else {
		out = metadata.MD{}
	}
	prop.Inject(ctx, mdCarrier(out))
	return metadata.NewOutgoingContext(ctx, out), span
}

func finish(span trace.Span, err error) {
	code := status.Code(err)
	span.SetAttributes(attribute.Int("rpc.grpc.status_code", int(code)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, code.String())
	}
	span.End()
}

// TracingUnaryInterceptor opens one server span per unary RPC.
func TracingUnaryInterceptor(opts ...TracingOption) grpc.UnaryServerInterceptor {
	cfg := newTracingConfig(opts)
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, span := cfg.start(ctx, info.FullMethod)
		resp, err := handler(ctx, req)
		finish(span, err)
		return resp, err
	}
}

// TracingStreamInterceptor opens one server span per stream, ended when
// the handler returns.
func TracingStreamInterceptor(opts ...TracingOption) grpc.StreamServerInterceptor {
	cfg := newTracingConfig(opts)
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, span := cfg.start(ss.Context(), info.FullMethod)
		err := handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
		finish(span, err)
		return err
	}
}

// rpcAttributes splits "/pkg.Service/Method" into the rpc.* attributes.
func rpcAttributes(fullMethod string) []attribute.KeyValue {
	service, method, ok := strings.Cut(strings.TrimPrefix(fullMethod, "/"), "/")
	if service == "" {
		service = "unknown"
	}
	if !ok || method == "" {
		method = "unknown"
	}
	return []attribute.KeyValue{
		attribute.String("rpc.system", "grpc"),
		attribute.String("rpc.service", service),
		attribute.String("rpc.method", method),
	}
}

// mdCarrier adapts gRPC metadata, whose keys are lower case, to the
// propagation API.
type mdCarrier metadata.MD

var _ propagation.TextMapCarrier = mdCarrier{}

func (c mdCarrier) Get(key string) string {
	if v := metadata.MD(c).Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (c mdCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

func (c mdCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
