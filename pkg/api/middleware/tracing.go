package middleware

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const httpTracerName = "github.com/IRCAD/sight-sub083/pkg/api"

// TracingOptions configures the Tracing middleware.
type TracingOptions struct {
	// SkipPrefixes are path prefixes served without a span.
	SkipPrefixes []string

	// Provider and Propagator default to the otel globals, read per request.
	Provider   trace.TracerProvider
	Propagator propagation.TextMapPropagator
}

// DefaultTracingOptions skips probes, the scrape endpoint and the event
// stream, whose span would last as long as the websocket.
func DefaultTracingOptions() TracingOptions {
	return TracingOptions{
		SkipPrefixes: []string{"/health", "/ready", "/metrics", "/ws/"},
	}
}

func (o TracingOptions) skip(path string) bool {
	for _, prefix := range o.SkipPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Tracing opens one server span per request, continuing the caller's trace
// when the request carries one. The span is renamed after the chi route
// once the handler has run, so ids do not leak into span names.
func Tracing(opts TracingOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.skip(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			prop, tp := opts.Propagator, opts.Provider
			if prop == nil {
				prop = otel.GetTextMapPropagator()
			}
			if tp == nil {
				tp = otel.GetTracerProvider()
			}

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tp.Tracer(httpTracerName).Start(ctx, r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", r.Method),
					attribute.String("url.path", r.URL.Path),
				),
			)
			defer span.End()
			if id := GetRequestID(ctx); id != "" {
				span.SetAttributes(attribute.String("http.request.id", id))
			}

			sw := wrapWriter(w)
			r = r.WithContext(ctx)
			next.ServeHTTP(sw, r)

			route := routeOf(r)
			span.SetName(r.Method + " " + route)
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.response.status_code", sw.status),
			)
			// Client errors are the caller's problem; only 5xx marks the span.
			if sw.status >= http.StatusInternalServerError {
				span.SetStatus(otelcodes.Error, http.StatusText(sw.status))
			}
		})
	}
}
