package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/IRCAD/sight-sub083/pkg/api/response"
	"github.com/IRCAD/sight-sub083/pkg/logger"
)

// Recovery turns a handler panic into a 500. The panic value and stack are
// logged, never sent to the client. http.ErrAbortHandler is re-raised so
// net/http can abort the connection.
func Recovery(log logger.Logger) func(http.Handler) http.Handler {
	log = logger.OrComponent(log, "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}
				ctx := r.Context()
				id := GetRequestID(ctx)
				log.ErrorContext(ctx, "Panic recovered",
					"panic", v,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", id,
					"stack", string(debug.Stack()),
				)
				response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Internal server error", id)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
