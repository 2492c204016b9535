package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/IRCAD/sight-sub083/pkg/api/models"
	"github.com/IRCAD/sight-sub083/pkg/data"
)

func setupBenchmarkEnv(b *testing.B) *testEnv {
	b.Helper()
	cfg := testConfig()
	cfg.Server.RateLimit.Enabled = false
	env := newTestEnv(b, cfg)

	scene := data.NewComposite()
	scene.Set("image", env.image)
	for i := 0; i < 20; i++ {
		svc := testService{id: fmt.Sprintf("svc-%02d", i), classname: "bench::Service"}
		if err := env.registry.RegisterServiceOutput(scene, "scene", svc, i); err != nil {
			b.Fatalf("register output: %v", err)
		}
	}
	return env
}

func benchmarkGet(b *testing.B, env *testEnv, target string) {
	b.Helper()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			b.Fatalf("GET %s: status %d", target, w.Code)
		}
	}
}

func BenchmarkHealthCheck(b *testing.B) {
	benchmarkGet(b, setupBenchmarkEnv(b), "/health")
}

func BenchmarkStatusCheck(b *testing.B) {
	benchmarkGet(b, setupBenchmarkEnv(b), "/status")
}

func BenchmarkRegistrySnapshot(b *testing.B) {
	benchmarkGet(b, setupBenchmarkEnv(b), "/api/v1/registry/")
}

func BenchmarkListServices(b *testing.B) {
	benchmarkGet(b, setupBenchmarkEnv(b), "/api/v1/registry/services?classname=bench::Service")
}

func BenchmarkCreateSnapshot(b *testing.B) {
	env := setupBenchmarkEnv(b)
	raw, err := json.Marshal(models.CreateSnapshotRequest{ObjectID: env.image.ID()})
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/snapshots/", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		if w.Code != http.StatusCreated {
			b.Fatalf("status %d: %s", w.Code, w.Body.String())
		}
	}
}
