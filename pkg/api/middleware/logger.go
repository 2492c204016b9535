// Package middleware holds the net/http middleware of the API router.
package middleware

import (
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/IRCAD/sight-sub083/pkg/logger"
)

// Logger writes one access line per request: error level for 5xx, warn for
// 4xx and info otherwise.
func Logger(log logger.Logger) func(http.Handler) http.Handler {
	log = logger.OrComponent(log, "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := wrapWriter(w)
			start := time.Now()
			next.ServeHTTP(sw, r)

			emit := log.InfoContext
			if status := sw.Status(); status >= http.StatusInternalServerError {
				emit = log.ErrorContext
			} else if status >= http.StatusBadRequest {
				emit = log.WarnContext
			}
			emit(r.Context(), "HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.Status(),
				"duration", time.Since(start),
				"size", humanize.IBytes(uint64(sw.size)),
				"remote_addr", r.RemoteAddr,
				"request_id", GetRequestID(r.Context()),
			)
		})
	}
}
