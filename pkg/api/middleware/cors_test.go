package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/IRCAD/sight-sub083/config"
)

func corsRequest(method, origin string, preflight bool) *http.Request {
	req := httptest.NewRequest(method, "/api/v1/registry", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if preflight {
		req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	}
	return req
}

func TestCORS(t *testing.T) {
	viewer := &config.CORSConfig{
		Enabled:          true,
		AllowedOrigins:   []string{"http://viewer.local:3000"},
		AllowedMethods:   []string{"GET", "POST", "DELETE"},
		AllowedHeaders:   []string{"Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           600,
	}

	tests := []struct {
		name       string
		cfg        *config.CORSConfig
		req        *http.Request
		wantStatus int
		wantOrigin string
		wantMaxAge string
	}{
		{"allowed origin", viewer, corsRequest(http.MethodGet, "http://viewer.local:3000", false),
			http.StatusTeapot, "http://viewer.local:3000", ""},
		{"origin matched case-insensitively", viewer, corsRequest(http.MethodGet, "HTTP://Viewer.Local:3000", false),
			http.StatusTeapot, "HTTP://Viewer.Local:3000", ""},
		{"wildcard", &config.CORSConfig{Enabled: true, AllowedOrigins: []string{" * "}}, corsRequest(http.MethodGet, "http://any.example", false),
			http.StatusTeapot, "http://any.example", ""},
		{"foreign origin", viewer, corsRequest(http.MethodGet, "http://evil.example", false),
			http.StatusTeapot, "", ""},
		{"same-origin request", viewer, corsRequest(http.MethodGet, "", false),
			http.StatusTeapot, "", ""},
		{"preflight", viewer, corsRequest(http.MethodOptions, "http://viewer.local:3000", true),
			http.StatusNoContent, "http://viewer.local:3000", "600"},
		{"plain OPTIONS reaches the handler", viewer, corsRequest(http.MethodOptions, "http://viewer.local:3000", false),
			http.StatusTeapot, "http://viewer.local:3000", ""},
		{"foreign preflight", viewer, corsRequest(http.MethodOptions, "http://evil.example", true),
			http.StatusForbidden, "", ""},
		{"disabled", &config.CORSConfig{AllowedOrigins: []string{"*"}}, corsRequest(http.MethodOptions, "http://viewer.local:3000", true),
			http.StatusTeapot, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			CORS(tt.cfg)(replying(http.StatusTeapot)).ServeHTTP(w, tt.req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantMaxAge, w.Header().Get("Access-Control-Max-Age"))
		})
	}
}

func TestCORS_Headers(t *testing.T) {
	cfg := &config.CORSConfig{
		Enabled:          true,
		AllowedOrigins:   []string{"http://viewer.local"},
		AllowedMethods:   []string{"GET", "DELETE"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
	}
	h := CORS(cfg)(replying(http.StatusOK))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, corsRequest(http.MethodGet, "http://viewer.local", false))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "X-Request-ID, Retry-After", w.Header().Get("Access-Control-Expose-Headers"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Methods"), "methods are only listed on preflights")
	assert.Equal(t, []string{"Origin"}, w.Header().Values("Vary"))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, corsRequest(http.MethodOptions, "http://viewer.local", true))
	assert.Equal(t, "GET, DELETE", w.Header().Get("Access-Control-Allow-Methods"))
}
