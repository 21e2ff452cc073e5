package backend

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a fresh adapter for the engine installed in dir. Each call
// must return an independent instance.
type Factory func(dir string) (Adapter, error)

// Registry holds the adapters that run inside the host process, by name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under the given name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New creates a new adapter instance from the named factory.
func (r *Registry) New(name, dir string) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q is not registered", ErrUnknownAdapter, name)
	}
	a, err := f(dir)
	if err != nil {
		return nil, fmt.Errorf("create adapter %q: %w", name, err)
	}
	return a, nil
}

// List returns the registered names, sorted for a stable API response.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
