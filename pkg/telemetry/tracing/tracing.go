// Package tracing configures the process-wide OpenTelemetry tracer provider
// that the worker, com and lock packages report their spans to.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/multierr"

	"github.com/IRCAD/sight-sub083/config"
	"github.com/IRCAD/sight-sub083/pkg/logger"
)

// Exporter kinds.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

// ShutdownFunc flushes pending spans and releases the provider.
type ShutdownFunc func(ctx context.Context) error

type exporterFactory func(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error)

// stdoutWriter receives the spans of the stdout exporter.
var stdoutWriter io.Writer = os.Stdout

var exporters = map[string]exporterFactory{
	ExporterOTLP: func(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(collectorHost(cfg.Endpoint)),
			otlptracegrpc.WithTimeout(cfg.Timeout),
			otlptracegrpc.WithInsecure(),
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		return otlptracegrpc.New(ctx, opts...)
	},
	ExporterStdout: func(context.Context, config.TracingConfig) (sdktrace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithWriter(stdoutWriter))
	},
}

// exportFailed is told about every batch the exporter could not deliver.
var exportFailed = func(err error, kind, target string, spans int) {
	logger.Component("tracing").Warn("Span export failed",
		"error", err, "exporter", kind, "target", target, "spans", spans)
}

// quietExporter swallows delivery errors so a missing collector never
// reaches the span processor; they are reported through exportFailed.
type quietExporter struct {
	sdktrace.SpanExporter
	kind, target string
}

func (e quietExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if err := e.SpanExporter.ExportSpans(ctx, spans); err != nil {
		exportFailed(err, e.kind, e.target, len(spans))
	}
	return nil
}

func validate(cfg config.TracingConfig) (string, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Exporter))
	if kind == "" {
		return "", errors.New("tracing exporter cannot be empty")
	}
	if _, ok := exporters[kind]; !ok {
		return "", fmt.Errorf("unsupported tracing exporter: %s", cfg.Exporter)
	}
	if kind == ExporterOTLP {
		if collectorHost(cfg.Endpoint) == "" {
			return "", errors.New("tracing endpoint cannot be empty")
		}
		if cfg.Timeout <= 0 {
			return "", errors.New("tracing timeout must be > 0")
		}
	}
	return kind, nil
}

// Init installs the global tracer provider and the W3C trace-context and
// baggage propagator. Disabled tracing installs a no-op provider. attrs
// are added to the service resource.
func Init(ctx context.Context, cfg config.TracingConfig, serviceName, serviceVersion string, attrs ...attribute.KeyValue) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	kind, err := validate(cfg)
	if err != nil {
		return nil, err
	}
	exp, err := exporters[kind](ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", kind, err)
	}
	target := kind
	if kind == ExporterOTLP {
		target = collectorHost(cfg.Endpoint)
	}

	attrs = append([]attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	}, attrs...)
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("create tracing resource: %w", err), exp.Shutdown(ctx))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(quietExporter{SpanExporter: exp, kind: kind, target: target}),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg)),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		var err error
		if ferr := tp.ForceFlush(ctx); ferr != nil {
			err = fmt.Errorf("flush spans: %w", ferr)
		}
		if serr := tp.Shutdown(ctx); serr != nil {
			err = multierr.Append(err, fmt.Errorf("shutdown tracer provider: %w", serr))
		}
		return err
	}, nil
}

// sampler maps "always_on" and "always_off"; anything else samples
// SampleRate of the root traces and follows the parent decision otherwise.
func sampler(cfg config.TracingConfig) sdktrace.Sampler {
	switch strings.ToLower(strings.TrimSpace(cfg.Sampler)) {
	case "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
}

// collectorHost strips the scheme and path from a collector URL, since the
// gRPC exporter wants host:port.
func collectorHost(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if !strings.Contains(endpoint, "://") {
		return endpoint
	}
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		return u.Host
	}
	return endpoint
}
