package transform

import (
	"fmt"
	"sort"
	"sync"

	"github.com/seantiz/modelrunner/internal/tensor"
)

// Operation is one named numeric transformation.
type Operation interface {
	// Name returns the registered operation name, e.g. "scale_range".
	Name() string

	// Check reports whether the operation can be applied to t without
	// modifying it.
	Check(t *tensor.Tensor) error

	// Apply transforms t in place. It runs Check first.
	Apply(t *tensor.Tensor) error
}

// Factory builds an Operation from normalised parameters, rejecting missing
// or inconsistent ones with ErrInvalidParameter.
type Factory func(Params) (Operation, error)

// Registry maps operation names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Registering an existing name replaces it.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New builds the named operation.
func (r *Registry) New(name string, p Params) (Operation, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, name)
	}
	op, err := f(p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return op, nil
}

// Names returns all registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var defaultRegistry = NewRegistry()

func init() {
	defaultRegistry.Register(ScaleLinearName, NewScaleLinear)
	defaultRegistry.Register(ScaleRangeName, NewScaleRange)
	defaultRegistry.Register(ClipName, NewClip)
	defaultRegistry.Register(BinarizeName, NewBinarize)
	defaultRegistry.Register(ZeroMeanUnitVarianceName, NewZeroMeanUnitVariance)
}

// Register adds a factory to the default registry.
func Register(name string, f Factory) { defaultRegistry.Register(name, f) }

// New builds an operation from the default registry.
func New(name string, p Params) (Operation, error) { return defaultRegistry.New(name, p) }

// Names lists the operations in the default registry.
func Names() []string { return defaultRegistry.Names() }

// requireData rejects empty tensors.
func requireData(name string, t *tensor.Tensor) error {
	if t.IsEmpty() {
		return fmt.Errorf("%s: %w: %q", name, tensor.ErrEmptyTensor, t.Name())
	}
	return nil
}

// storeFloat32 replaces the payload of t with vals narrowed to float32.
func storeFloat32(t *tensor.Tensor, vals []float64) error {
	out := make([]float32, len(vals))
	parallelFor(len(vals), func(i int) {
		out[i] = float32(vals[i])
	})
	return t.SetArray(t.Shape(), out)
}
