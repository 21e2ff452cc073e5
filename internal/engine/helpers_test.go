package engine_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seantiz/modelrunner/internal/agent"
	"github.com/seantiz/modelrunner/internal/backend"
	"github.com/seantiz/modelrunner/internal/backend/process"
	"github.com/seantiz/modelrunner/internal/backend/reference"
	"github.com/seantiz/modelrunner/internal/engine"
	"github.com/seantiz/modelrunner/internal/store"
)

// helperEnv makes the test binary act as a reference adapter process.
const helperEnv = "MODELRUNNER_ENGINE_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) != "" {
		a := agent.New(os.Stdin, os.Stdout)
		if err := a.Serve(context.Background(), reference.New(a.Logger(slog.LevelInfo))); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

const host = "linux-x86_64"

func hostPlatform(t *testing.T) *engine.Platform {
	t.Helper()
	p, err := engine.ParsePlatform(host)
	if err != nil {
		t.Fatalf("ParsePlatform: %v", err)
	}
	return &p
}

// makeEngines creates an engines root holding one empty directory per name.
func makeEngines(t *testing.T, names ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, n := range names {
		if err := os.Mkdir(filepath.Join(root, n), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", n, err)
		}
	}
	return root
}

// installEngine creates an engine directory with the given manifest and
// resolves it.
func installEngine(t *testing.T, root, name, manifest string) *engine.Resolved {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, engine.ManifestFile), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	d, err := engine.ParseDirName(name)
	if err != nil {
		t.Fatalf("ParseDirName: %v", err)
	}
	d.Path = dir
	return &engine.Resolved{Dir: d, Requested: d.Version, Exact: true}
}

const referenceManifest = "adapter: builtin\nbuiltin: reference\n"

// countingRegistry registers the reference adapter and a stub adapter and
// records every instance created.
type countingRegistry struct {
	*backend.Registry

	created atomic.Int32
	mu      sync.Mutex
	refs    map[string]*reference.Adapter
	stubs   []*stubAdapter
}

func newRegistry(t *testing.T) *countingRegistry {
	t.Helper()
	r := &countingRegistry{Registry: backend.NewRegistry(), refs: make(map[string]*reference.Adapter)}
	r.Register(reference.Name, func(dir string) (backend.Adapter, error) {
		r.created.Add(1)
		// Widen the window in which concurrent acquirers could race.
		time.Sleep(20 * time.Millisecond)
		a := reference.New(discardLogger())
		r.mu.Lock()
		r.refs[dir] = a
		r.mu.Unlock()
		return a, nil
	})
	r.Register("stub", func(string) (backend.Adapter, error) {
		r.created.Add(1)
		s := &stubAdapter{}
		r.mu.Lock()
		r.stubs = append(r.stubs, s)
		r.mu.Unlock()
		return s, nil
	})
	r.Register("stub-concurrent", func(string) (backend.Adapter, error) {
		r.created.Add(1)
		s := &stubAdapter{concurrent: true}
		r.mu.Lock()
		r.stubs = append(r.stubs, s)
		r.mu.Unlock()
		return s, nil
	})
	return r
}

func (r *countingRegistry) reference(dir string) *reference.Adapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs[dir]
}

func (r *countingRegistry) lastStub() *stubAdapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stubs[len(r.stubs)-1]
}

func newLoader(t *testing.T, reg *countingRegistry, s store.Store) *engine.Loader {
	t.Helper()
	l := engine.NewLoader(reg.Registry, process.LoadConfig(), s, discardLogger())
	t.Cleanup(func() { l.Close() })
	return l
}

// stubAdapter echoes its inputs. Failures are injected through fail.
type stubAdapter struct {
	concurrent bool

	runs     atomic.Int32
	inflight atomic.Int32
	maxSeen  atomic.Int32
	closed   atomic.Bool

	mu   sync.Mutex
	fail error
	wait time.Duration
}

func (s *stubAdapter) setFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *stubAdapter) Info() backend.Info {
	return backend.Info{Name: "stub", Framework: "stub", Version: "0.0.1", Concurrent: s.concurrent}
}

func (s *stubAdapter) Load(context.Context, backend.ModelSpec) (backend.ModelHandle, error) {
	return "stub-model", nil
}

func (s *stubAdapter) Run(_ context.Context, _ backend.ModelHandle, in []backend.TensorBuffer) ([]backend.TensorBuffer, error) {
	s.runs.Add(1)
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	s.mu.Lock()
	err, wait := s.fail, s.wait
	s.mu.Unlock()
	time.Sleep(wait)
	if err != nil {
		return nil, err
	}
	return in, nil
}

func (s *stubAdapter) Unload(context.Context, backend.ModelHandle) error { return nil }

func (s *stubAdapter) Close(context.Context) error {
	s.closed.Store(true)
	return nil
}

const graph = `
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

// writeModel creates a model folder with a description document and a
// weights file.
func writeModel(t *testing.T, weights string) engine.ModelSpec {
	t.Helper()
	folder := t.TempDir()
	if err := os.WriteFile(filepath.Join(folder, engine.RDFFile), []byte("name: test\n"), 0o644); err != nil {
		t.Fatalf("write rdf: %v", err)
	}
	if err := os.WriteFile(filepath.Join(folder, "weights.yaml"), []byte(weights), 0o644); err != nil {
		t.Fatalf("write weights: %v", err)
	}
	return engine.ModelSpec{Folder: folder, Weights: "weights.yaml"}
}
