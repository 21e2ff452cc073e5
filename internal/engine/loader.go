package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/seantiz/modelrunner/internal/backend"
	"github.com/seantiz/modelrunner/internal/backend/process"
	"github.com/seantiz/modelrunner/internal/store"
)

// Loader owns every loaded engine context, keyed by absolute engine
// directory. It is safe for concurrent use.
type Loader struct {
	builtins *backend.Registry
	procCfg  process.Config
	store    store.Store
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// entry is a registry slot. ready is closed once ctx or err is set, so
// concurrent acquirers of a directory that is still loading wait for the
// first load instead of starting their own.
type entry struct {
	ready chan struct{}
	ctx   *Context
	err   error
	// cancelled marks an err caused by the loading caller's context, which
	// waiters with live contexts should not inherit.
	cancelled bool
}

// NewLoader creates a loader. Builtin adapters come from builtins; process
// adapters are started with procCfg. When s is non-nil every run is
// recorded in it.
func NewLoader(builtins *backend.Registry, procCfg process.Config, s store.Store, logger *slog.Logger) *Loader {
	return &Loader{
		builtins: builtins,
		procCfg:  procCfg,
		store:    s,
		logger:   logger,
		entries:  make(map[string]*entry),
	}
}

// Acquire returns the context for the resolved engine, loading it on first
// use. Every successful Acquire must be paired with a Release.
func (l *Loader) Acquire(ctx context.Context, r *Resolved) (*Context, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil resolution", ErrEngineLoad)
	}
	dir := r.Dir
	abs, err := filepath.Abs(dir.Path)
	if err != nil || dir.Path == "" {
		return nil, fmt.Errorf("%w: engine %s has no directory", ErrEngineLoad, dir.Name)
	}
	dir.Path = abs

	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return nil, fmt.Errorf("%w: loader shut down", ErrEngineClosed)
		}

		e, ok := l.entries[abs]
		if !ok {
			e = &entry{ready: make(chan struct{})}
			l.entries[abs] = e
			l.mu.Unlock()
			return l.loadEntry(ctx, e, dir)
		}
		l.mu.Unlock()

		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		l.mu.Lock()
		if e.err != nil {
			l.mu.Unlock()
			if e.cancelled && ctx.Err() == nil {
				continue
			}
			return nil, e.err
		}
		if l.entries[abs] == e && e.ctx.State() == StateOpen {
			e.ctx.refs++
			l.mu.Unlock()
			return e.ctx, nil
		}
		l.mu.Unlock()
		// The context failed or was released meanwhile; load a fresh one.
	}
}

func (l *Loader) loadEntry(ctx context.Context, e *entry, dir EngineDir) (*Context, error) {
	c, err := l.load(ctx, dir)

	l.mu.Lock()
	if err == nil && l.closed {
		err = fmt.Errorf("%w: loader shut down", ErrEngineClosed)
		l.mu.Unlock()
		c.close(context.Background())
		l.mu.Lock()
		c = nil
	}
	if err != nil {
		if l.entries[dir.Path] == e {
			delete(l.entries, dir.Path)
		}
		e.err = err
		e.cancelled = ctx.Err() != nil
	} else {
		c.refs = 1
		e.ctx = c
	}
	close(e.ready)
	l.mu.Unlock()

	return c, err
}

// load reads the manifest, verifies artifacts and instantiates the adapter.
func (l *Loader) load(ctx context.Context, dir EngineDir) (*Context, error) {
	start := time.Now()
	a, m, err := l.newAdapter(ctx, dir)
	if err == nil && ctx.Err() != nil {
		if cerr := a.Close(context.Background()); cerr != nil {
			l.logger.Warn("close adapter after cancelled load", "engine_dir", dir.Path, "error", cerr)
		}
		err = ctx.Err()
	}
	if err != nil {
		engineLoadFailures.Inc()
		l.logger.Error("engine load failed", "engine_dir", dir.Path, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrEngineLoad, dir.Name, err)
	}
	engineLoadDuration.WithLabelValues(m.Adapter).Observe(time.Since(start).Seconds())
	activeContexts.Inc()

	info := a.Info()
	c := &Context{
		dir:        dir,
		adapter:    a,
		info:       info,
		concurrent: info.Concurrent && (m.Concurrent == nil || *m.Concurrent),
		loader:     l,
		logger:     l.logger,
		loadedAt:   time.Now().UTC(),
		state:      StateOpen,
	}
	l.logger.Info("engine loaded",
		"engine_dir", dir.Path,
		"adapter", info.Name,
		"version", info.Version,
		"concurrent", c.concurrent,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return c, nil
}

func (l *Loader) newAdapter(ctx context.Context, dir EngineDir) (backend.Adapter, *Manifest, error) {
	m, err := ReadManifest(dir.Path)
	if err != nil {
		return nil, nil, err
	}
	if err := m.VerifyArtifacts(dir.Path); err != nil {
		return nil, nil, err
	}

	var a backend.Adapter
	switch m.Adapter {
	case AdapterBuiltin:
		if l.builtins == nil {
			return nil, nil, fmt.Errorf("%w: no builtin adapters available", backend.ErrUnknownAdapter)
		}
		a, err = l.builtins.New(m.Builtin, dir.Path)
	case AdapterProcess:
		a, err = process.Start(ctx, l.procCfg, dir.Path, m.Command, m.Args, l.logger)
	}
	if err != nil {
		return nil, nil, err
	}
	return a, m, nil
}

// Release gives back one reference. The last release closes the adapter and
// invalidates every session created from the context.
func (l *Loader) Release(c *Context) error {
	l.mu.Lock()
	if c.refs <= 0 {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s already released", ErrEngineClosed, c.dir.Name)
	}
	c.refs--
	last := c.refs == 0
	if last {
		if e, ok := l.entries[c.dir.Path]; ok && e.ctx == c {
			delete(l.entries, c.dir.Path)
		}
	}
	l.mu.Unlock()

	if !last {
		return nil
	}
	return c.close(context.Background())
}

// forget drops a failed context from the registry so the next Acquire loads
// a fresh one. Holders keep their references until they release them.
func (l *Loader) forget(c *Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[c.dir.Path]; ok && e.ctx == c {
		delete(l.entries, c.dir.Path)
	}
}

// Loaded lists the live contexts, sorted by directory name.
func (l *Loader) Loaded() []ContextInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	infos := make([]ContextInfo, 0, len(l.entries))
	for _, e := range l.entries {
		if e.ctx == nil {
			continue
		}
		c := e.ctx
		infos = append(infos, ContextInfo{
			Dir:        c.dir,
			Adapter:    c.info.Name,
			Version:    c.info.Version,
			State:      c.State(),
			Refs:       c.refs,
			Concurrent: c.concurrent,
			LoadedAt:   c.loadedAt,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Dir.Name < infos[j].Dir.Name })
	return infos
}

// Close tears down every context. Sessions and contexts still held by
// callers fail with ErrEngineClosed afterwards.
func (l *Loader) Close() error {
	l.mu.Lock()
	l.closed = true
	var contexts []*Context
	for key, e := range l.entries {
		if e.ctx != nil {
			e.ctx.refs = 0
			contexts = append(contexts, e.ctx)
		}
		delete(l.entries, key)
	}
	l.mu.Unlock()

	var errs []error
	for _, c := range contexts {
		if err := c.close(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
