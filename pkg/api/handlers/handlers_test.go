package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/IRCAD/sight-sub083/pkg/api/middleware"
	"github.com/IRCAD/sight-sub083/pkg/data"
	"github.com/IRCAD/sight-sub083/pkg/registry"
	"github.com/IRCAD/sight-sub083/pkg/worker"
)

type testService struct {
	id        string
	classname string
}

func (s testService) ID() string        { return s.id }
func (s testService) Classname() string { return s.classname }

// fixture is a registry holding one reader service whose "scene" output is a
// composite with an image.
type fixture struct {
	registry *registry.Registry
	workers  *worker.Manager
	reader   testService
	scene    *data.Composite
	image    *data.Image
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		registry: registry.New(),
		workers:  worker.NewManager(nil),
		reader:   testService{id: "reader", classname: "io::ImageReader"},
		scene:    data.NewComposite(),
		image:    data.NewImage(),
	}
	f.workers.Get("render")
	t.Cleanup(func() { _ = f.workers.StopAll(context.Background()) })

	if err := f.image.Resize(data.Size{4, 4, 1}, 1); err != nil {
		t.Fatalf("resize image: %v", err)
	}
	f.scene.Set("image", f.image)
	if err := f.registry.RegisterServiceOutput(f.scene, "scene", f.reader); err != nil {
		t.Fatalf("register output: %v", err)
	}
	if err := f.registry.RegisterService(testService{id: "viewer", classname: "ui::Viewer"}); err != nil {
		t.Fatalf("register service: %v", err)
	}
	return f
}

// serve routes req through a chi router so URL parameters resolve.
func serve(pattern, method string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Method(method, pattern, h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(raw)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}
