package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/seantiz/modelrunner/internal/backend"
	"github.com/seantiz/modelrunner/internal/backend/process"
	"github.com/seantiz/modelrunner/internal/backend/reference"
	"github.com/seantiz/modelrunner/internal/config"
	"github.com/seantiz/modelrunner/internal/download"
	"github.com/seantiz/modelrunner/internal/engine"
	"github.com/seantiz/modelrunner/internal/model"
	"github.com/seantiz/modelrunner/internal/store"
)

// doublerGraph is a reference model computing 2x+1.
const doublerGraph = `
name: doubler
inputs:
  - name: input0
    axes: bcyx
outputs:
  - name: doubled
    from: input0
    pipeline:
      - name: scale_linear
        kwargs: {gain: 2, offset: 1}
`

// engineName is the reference engine installed for the host platform.
func engineName() string {
	return "reference-1.0.0-1.0.0-" + engine.HostPlatform().String() + "-cpu"
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	reg := backend.NewRegistry()
	reg.Register(reference.Name, reference.Factory(logger))
	loader := engine.NewLoader(reg, process.LoadConfig(), s, logger)
	t.Cleanup(func() { loader.Close() })

	dl := download.NewService(s, download.NewDownloader(nil, 2, logger), logger)
	t.Cleanup(dl.Wait)

	cfg := config.Config{
		ListenAddr:      ":0",
		EnginesDir:      t.TempDir(),
		ModelsDir:       t.TempDir(),
		Device:          model.DeviceAny,
		DownloadWorkers: 2,
	}
	installEngine(t, cfg.EnginesDir, engineName())
	writeModel(t, filepath.Join(cfg.ModelsDir, "doubler"))

	srv := NewServer(cfg, s, reg, loader, dl, logger)
	t.Cleanup(func() { srv.CloseSessions(context.Background()) })
	return srv
}

func installEngine(t *testing.T, root, name string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	manifest := "adapter: builtin\nbuiltin: " + reference.Name + "\n"
	if err := os.WriteFile(filepath.Join(dir, engine.ManifestFile), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func writeModel(t *testing.T, folder string) {
	t.Helper()
	if err := os.MkdirAll(folder, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(folder, engine.RDFFile), []byte("name: doubler\n"), 0o644); err != nil {
		t.Fatalf("write rdf: %v", err)
	}
	if err := os.WriteFile(filepath.Join(folder, "weights.yaml"), []byte(doublerGraph), 0o644); err != nil {
		t.Fatalf("write weights: %v", err)
	}
}

// postJSON sends v as a JSON body.
func postJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/test")
	if err != nil {
		t.Fatalf("GET /test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestPanicRecovery(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/test", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /test: %v", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{store.ErrNotFound, http.StatusNotFound},
		{engine.ErrEngineNotFound, http.StatusNotFound},
		{engine.ErrEngineVersionMismatch, http.StatusNotFound},
		{engine.ErrEngineClosed, http.StatusConflict},
		{engine.ErrAmbiguousEngine, http.StatusConflict},
		{engine.ErrInvalidInput, http.StatusUnprocessableEntity},
		{download.ErrInvalidURL, http.StatusUnprocessableEntity},
		{engine.ErrInferenceExecution, http.StatusBadGateway},
		{engine.ErrEngineLoad, http.StatusBadGateway},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
