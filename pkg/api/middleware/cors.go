package middleware

import (
	"net/http"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/IRCAD/sight-sub083/config"
)

// CORS answers cross-origin requests from the configured origins. Other
// origins get no CORS headers and their preflights are refused. The
// configuration is read once.
func CORS(cfg *config.CORSConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}

	origins := mapset.NewThreadUnsafeSet[string]()
	anyOrigin := false
	for _, o := range cfg.AllowedOrigins {
		if o = strings.TrimSpace(o); o == "*" {
			anyOrigin = true
		} else if o != "" {
			origins.Add(strings.ToLower(o))
		}
	}

	// Headers shared by every allowed response.
	fixed := http.Header{}
	if cfg.AllowCredentials {
		fixed.Set("Access-Control-Allow-Credentials", "true")
	}
	if len(cfg.ExposedHeaders) > 0 {
		fixed.Set("Access-Control-Expose-Headers", strings.Join(cfg.ExposedHeaders, ", "))
	}
	preflight := http.Header{}
	if len(cfg.AllowedMethods) > 0 {
		preflight.Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowedMethods, ", "))
	}
	if len(cfg.AllowedHeaders) > 0 {
		preflight.Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowedHeaders, ", "))
	}
	if cfg.MaxAge > 0 {
		preflight.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			isPreflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			if !anyOrigin && !origins.Contains(strings.ToLower(origin)) {
				if isPreflight {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			h.Set("Access-Control-Allow-Origin", origin)
			for k, v := range fixed {
				h[k] = v
			}
			if !isPreflight {
				next.ServeHTTP(w, r)
				return
			}
			for k, v := range preflight {
				h[k] = v
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
