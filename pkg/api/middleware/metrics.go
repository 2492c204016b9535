package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// MetricsRecorder receives one observation per served request. ctx carries
// the request span, when there is one, for exemplars.
type MetricsRecorder interface {
	ObserveHTTP(ctx context.Context, method, route string, status int, elapsed time.Duration)
	AddInFlight(delta int)
}

// Metrics observes every request except the scrape endpoint itself. A
// panicking handler is recorded as a 500 before the panic continues.
func Metrics(recorder MetricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" || strings.HasPrefix(r.URL.Path, "/metrics/") {
				next.ServeHTTP(w, r)
				return
			}

			recorder.AddInFlight(1)
			sw := wrapWriter(w)
			start := time.Now()
			status := http.StatusInternalServerError
			defer func() {
				recorder.AddInFlight(-1)
				recorder.ObserveHTTP(r.Context(), r.Method, routeOf(r), status, time.Since(start))
			}()

			next.ServeHTTP(sw, r)
			status = sw.Status()
		})
	}
}

// routeOf returns the chi route pattern, or the URL path with identifier
// segments collapsed to ":id" when no route matched.
func routeOf(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	segs := strings.Split(r.URL.Path, "/")
	for i, s := range segs {
		if isIdentifier(s) {
			segs[i] = ":id"
		}
	}
	return strings.Join(segs, "/")
}

// isIdentifier matches numbers, UUIDs and the 16-digit hex object hashes.
func isIdentifier(seg string) bool {
	if seg == "" {
		return false
	}
	if _, err := strconv.ParseUint(seg, 10, 64); err == nil {
		return true
	}
	if len(seg) == 36 {
		_, err := uuid.Parse(seg)
		return err == nil
	}
	if len(seg) == 16 {
		_, err := strconv.ParseUint(seg, 16, 64)
		return err == nil && strings.ToLower(seg) == seg
	}
	return false
}
