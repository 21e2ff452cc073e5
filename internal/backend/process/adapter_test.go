package process_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/modelrunner/internal/agent"
	"github.com/seantiz/modelrunner/internal/backend"
	"github.com/seantiz/modelrunner/internal/backend/process"
	"github.com/seantiz/modelrunner/internal/tensor"
)

// helperEnv makes the test binary act as an adapter process.
const helperEnv = "MODELRUNNER_PROCESS_HELPER"

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(runHelper(mode))
	}
	os.Exit(m.Run())
}

func runHelper(mode string) int {
	if mode == "silent" {
		time.Sleep(time.Minute)
		return 0
	}
	a := agent.New(os.Stdin, os.Stdout)
	adapter := &helperAdapter{mode: mode, logger: a.Logger(slog.LevelDebug)}
	if err := a.Serve(context.Background(), adapter); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// helperAdapter runs inside the child. Load returns the working directory as
// the handle so the host can verify where the child was started.
type helperAdapter struct {
	mode   string
	logger *slog.Logger
}

func (h *helperAdapter) Info() backend.Info {
	return backend.Info{Name: "helper", Framework: "test", Version: "0.1.0", Concurrent: true}
}

func (h *helperAdapter) Load(_ context.Context, spec backend.ModelSpec) (backend.ModelHandle, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	h.logger.Info("load", "weights", spec.Weights, "engine_dir", os.Getenv(process.EnvEngineDir))
	fmt.Fprintln(os.Stderr, "loading from stderr")
	return backend.ModelHandle(wd), nil
}

func (h *helperAdapter) Run(_ context.Context, m backend.ModelHandle, in []backend.TensorBuffer) ([]backend.TensorBuffer, error) {
	switch h.mode {
	case "crash":
		os.Exit(3)
	case "hang":
		time.Sleep(time.Hour)
	}
	if m == "" || !filepath.IsAbs(string(m)) {
		return nil, fmt.Errorf("%w: %q", backend.ErrUnknownModel, m)
	}
	return in, nil
}

func (h *helperAdapter) Unload(context.Context, backend.ModelHandle) error { return nil }
func (h *helperAdapter) Close(context.Context) error                       { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func startHelper(t *testing.T, mode string, cfg process.Config) (*process.Adapter, string) {
	t.Helper()
	t.Setenv(helperEnv, mode)
	dir := t.TempDir()
	a, err := process.Start(context.Background(), cfg, dir, os.Args[0], nil, discardLogger())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return a, dir
}

func testConfig() process.Config {
	return process.Config{StartTimeout: 10 * time.Second, ShutdownTimeout: 5 * time.Second}
}

func sameDir(t *testing.T, a, b string) bool {
	t.Helper()
	ra, err := filepath.EvalSymlinks(a)
	if err != nil {
		t.Fatalf("EvalSymlinks(%s): %v", a, err)
	}
	rb, err := filepath.EvalSymlinks(b)
	if err != nil {
		t.Fatalf("EvalSymlinks(%s): %v", b, err)
	}
	return ra == rb
}

func TestAdapterLoadRunClose(t *testing.T) {
	a, dir := startHelper(t, "echo", testConfig())
	ctx := context.Background()

	info := a.Info()
	if info.Name != "helper" || info.Version != "0.1.0" {
		t.Errorf("Info = %+v", info)
	}
	if info.Concurrent {
		t.Error("process adapter must not report concurrent calls")
	}

	h, err := a.Load(ctx, backend.ModelSpec{Folder: dir, Weights: filepath.Join(dir, "w.yaml")})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !sameDir(t, string(h), dir) {
		t.Errorf("child working directory = %q, want %q", h, dir)
	}

	buf, err := tensor.Encode([]float64{0.5, -1, 2}, []int{1, 3})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := a.Run(ctx, h, []backend.TensorBuffer{{Name: "x", Axes: "bx", Buffer: buf}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) != 1 || out[0].Name != "x" || !out[0].Buffer.Equal(buf) {
		t.Errorf("Run output = %+v, want input echoed", out)
	}

	if err := a.Unload(ctx, h); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := a.Run(ctx, h, nil); err == nil {
		t.Error("expected error after Close")
	}
}

func TestAdapterRemoteErrorKeepsAdapterUsable(t *testing.T) {
	a, dir := startHelper(t, "echo", testConfig())
	ctx := context.Background()
	defer a.Close(ctx)

	_, err := a.Run(ctx, "not-a-handle", nil)
	if err == nil || !strings.Contains(err.Error(), "unknown model handle") {
		t.Fatalf("expected remote error, got %v", err)
	}
	if errors.Is(err, backend.ErrAdapterCorrupted) {
		t.Fatalf("remote error must not mark the adapter corrupted: %v", err)
	}

	h, err := a.Load(ctx, backend.ModelSpec{Folder: dir, Weights: filepath.Join(dir, "w.yaml")})
	if err != nil {
		t.Fatalf("Load after remote error: %v", err)
	}
	if _, err := a.Run(ctx, h, nil); err != nil {
		t.Errorf("Run after remote error: %v", err)
	}
}

func TestAdapterChildCrashMarksCorrupted(t *testing.T) {
	a, dir := startHelper(t, "crash", testConfig())
	ctx := context.Background()

	h, err := a.Load(ctx, backend.ModelSpec{Folder: dir, Weights: filepath.Join(dir, "w.yaml")})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, err = a.Run(ctx, h, nil)
	if !errors.Is(err, backend.ErrAdapterCorrupted) {
		t.Fatalf("expected ErrAdapterCorrupted, got %v", err)
	}
	_, err = a.Load(ctx, backend.ModelSpec{Folder: dir, Weights: filepath.Join(dir, "w.yaml")})
	if !errors.Is(err, backend.ErrAdapterCorrupted) {
		t.Errorf("expected later calls to fail fast, got %v", err)
	}
	if err := a.Close(ctx); err != nil {
		t.Errorf("Close after crash: %v", err)
	}
}

func TestAdapterCancelKillsChild(t *testing.T) {
	a, dir := startHelper(t, "hang", testConfig())
	h, err := a.Load(context.Background(), backend.ModelSpec{Folder: dir, Weights: filepath.Join(dir, "w.yaml")})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = a.Run(ctx, h, nil)
	if !errors.Is(err, backend.ErrAdapterCorrupted) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected corrupted deadline error, got %v", err)
	}
	a.Close(context.Background())
}

func TestAdapterStartTimeout(t *testing.T) {
	t.Setenv(helperEnv, "silent")
	cfg := process.Config{StartTimeout: 200 * time.Millisecond, ShutdownTimeout: time.Second}

	start := time.Now()
	_, err := process.Start(context.Background(), cfg, t.TempDir(), os.Args[0], nil, discardLogger())
	if err == nil {
		t.Fatal("expected start timeout")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("Start took %s, want it bounded by the start timeout", time.Since(start))
	}
}

func TestAdapterStartMissingCommand(t *testing.T) {
	_, err := process.Start(context.Background(), testConfig(), t.TempDir(), "bin/missing-adapter", nil, discardLogger())
	if err == nil {
		t.Fatal("expected error for missing adapter executable")
	}
}
