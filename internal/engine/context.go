package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/modelrunner/internal/backend"
	"github.com/seantiz/modelrunner/internal/model"
)

// State is the lifecycle state of an engine context.
type State string

// Context states.
const (
	StateOpen   State = "open"
	StateFailed State = "failed"
	StateClosed State = "closed"
)

// Context is one loaded engine: an adapter instance owned by the loader and
// shared by every caller that acquired the same directory. Only flat buffers
// reach the adapter.
type Context struct {
	dir        EngineDir
	adapter    backend.Adapter
	info       backend.Info
	concurrent bool
	loader     *Loader
	logger     *slog.Logger
	loadedAt   time.Time

	refs int // guarded by loader.mu

	// callMu is held shared by concurrent calls and exclusively by
	// serialised calls and by close.
	callMu sync.RWMutex

	mu    sync.RWMutex
	state State
	cause error
}

// ContextInfo is a snapshot of a loaded context.
type ContextInfo struct {
	Dir        EngineDir `json:"dir"`
	Adapter    string    `json:"adapter"`
	Version    string    `json:"version"`
	State      State     `json:"state"`
	Refs       int       `json:"refs"`
	Concurrent bool      `json:"concurrent"`
	LoadedAt   time.Time `json:"loaded_at"`
}

// Dir returns the engine directory the context was loaded from.
func (c *Context) Dir() EngineDir { return c.dir }

// Info returns the adapter description.
func (c *Context) Info() backend.Info { return c.info }

// Concurrent reports whether calls into the adapter may overlap.
func (c *Context) Concurrent() bool { return c.concurrent }

// State returns the current lifecycle state.
func (c *Context) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Context) usable() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.state {
	case StateOpen:
		return nil
	case StateFailed:
		return fmt.Errorf("%w: %s failed: %w", ErrEngineClosed, c.dir.Name, c.cause)
	default:
		return fmt.Errorf("%w: %s", ErrEngineClosed, c.dir.Name)
	}
}

// call runs fn against the adapter, serialised unless the adapter is
// concurrent. A corrupted adapter moves the context to the failed state.
func (c *Context) call(ctx context.Context, fn func(context.Context) error) error {
	if c.concurrent {
		c.callMu.RLock()
		defer c.callMu.RUnlock()
	} else {
		c.callMu.Lock()
		defer c.callMu.Unlock()
	}

	if err := c.usable(); err != nil {
		return err
	}
	err := fn(ctx)
	if err != nil && errors.Is(err, backend.ErrAdapterCorrupted) {
		c.fail(err)
	}
	return err
}

func (c *Context) fail(cause error) {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	c.state = StateFailed
	c.cause = cause
	c.mu.Unlock()

	c.logger.Error("engine context failed", "engine_dir", c.dir.Path, "error", cause)
	c.loader.forget(c)
}

// close shuts the adapter down once in-flight calls have returned.
func (c *Context) close(ctx context.Context) error {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.mu.Unlock()

	activeContexts.Dec()
	if err := c.adapter.Close(ctx); err != nil {
		c.logger.Warn("engine close failed", "engine_dir", c.dir.Path, "error", err)
		return fmt.Errorf("close %s: %w", c.dir.Name, err)
	}
	c.logger.Info("engine closed", "engine_dir", c.dir.Path)
	return nil
}

// NewSession loads a model into the engine.
func (c *Context) NewSession(ctx context.Context, spec ModelSpec) (*Session, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var h backend.ModelHandle
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		h, err = c.adapter.Load(ctx, spec.backendSpec())
		return err
	})
	if errors.Is(err, ErrEngineClosed) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: model %s: %w", ErrEngineLoad, spec.Folder, err)
	}

	s := &Session{
		id:     model.NewID(),
		c:      c,
		spec:   spec,
		handle: h,
	}
	c.logger.Info("model loaded",
		"engine_dir", c.dir.Path,
		"session_id", s.id,
		"model_folder", spec.Folder,
	)
	return s, nil
}
