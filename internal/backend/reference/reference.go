// Package reference is a pure-Go inference backend. A model is a YAML graph
// in which every output is computed from one named input by a
// transformation pipeline. It runs in-process as the "reference" builtin or
// as a child process through cmd/modelrunner-refadapter, and needs no native
// libraries.
package reference

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/modelrunner/internal/backend"
	"github.com/seantiz/modelrunner/internal/tensor"
	"github.com/seantiz/modelrunner/internal/transform"
)

// Name is the builtin registry name and the framework reported by Info.
const Name = "reference"

// Version is the adapter version reported by Info.
const Version = "1.0.0"

// Graph is the weights file format.
type Graph struct {
	Name    string   `yaml:"name"`
	Inputs  []Port   `yaml:"inputs"`
	Outputs []Output `yaml:"outputs"`
}

// Port declares a named tensor.
type Port struct {
	Name string `yaml:"name"`
	Axes string `yaml:"axes"`
}

// Output is computed by applying Pipeline to the input named From and
// optionally casting to DType.
type Output struct {
	Port     `yaml:",inline"`
	From     string           `yaml:"from"`
	DType    string           `yaml:"dtype,omitempty"`
	Pipeline []transform.Step `yaml:"pipeline,omitempty"`
}

type output struct {
	name     string
	axes     string
	from     string
	dtype    tensor.ElementType
	pipeline *transform.Pipeline
}

type model struct {
	name    string
	inputs  map[string]string // name -> axes
	outputs []output
}

// Adapter implements backend.Adapter. Models are immutable once loaded, so
// Run is safe for concurrent use.
type Adapter struct {
	logger *slog.Logger

	mu     sync.RWMutex
	models map[backend.ModelHandle]*model
	nextID int
	closed bool
}

var _ backend.Adapter = (*Adapter)(nil)

// New creates an empty adapter.
func New(logger *slog.Logger) *Adapter {
	return &Adapter{
		logger: logger,
		models: make(map[backend.ModelHandle]*model),
	}
}

// Factory returns a backend.Factory creating a fresh adapter per engine
// directory.
func Factory(logger *slog.Logger) backend.Factory {
	return func(dir string) (backend.Adapter, error) {
		return New(logger.With("engine_dir", dir)), nil
	}
}

func (a *Adapter) Info() backend.Info {
	return backend.Info{
		Name:       Name,
		Framework:  Name,
		Version:    Version,
		Concurrent: true,
		Devices:    []string{"cpu"},
	}
}

// Loaded returns the number of models currently loaded.
func (a *Adapter) Loaded() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.models)
}

func (a *Adapter) Load(_ context.Context, spec backend.ModelSpec) (backend.ModelHandle, error) {
	data, err := os.ReadFile(spec.Weights)
	if err != nil {
		return "", fmt.Errorf("read weights: %w", err)
	}
	m, err := compile(data)
	if err != nil {
		return "", fmt.Errorf("weights %s: %w", spec.Weights, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return "", fmt.Errorf("%w: adapter closed", backend.ErrAdapterCorrupted)
	}
	a.nextID++
	h := backend.ModelHandle(fmt.Sprintf("%s-%d", Name, a.nextID))
	a.models[h] = m
	a.logger.Info("model loaded", "handle", h, "model", m.name, "outputs", len(m.outputs))
	return h, nil
}

// compile parses and validates a graph.
func compile(data []byte) (*model, error) {
	var g Graph
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse graph: %w", err)
	}
	if len(g.Outputs) == 0 {
		return nil, fmt.Errorf("graph declares no outputs")
	}

	m := &model{name: g.Name, inputs: make(map[string]string, len(g.Inputs))}
	for _, in := range g.Inputs {
		axes, err := tensor.NormalizeAxes(in.Axes)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", in.Name, err)
		}
		m.inputs[in.Name] = axes
	}
	for _, out := range g.Outputs {
		inAxes, ok := m.inputs[out.From]
		if !ok {
			return nil, fmt.Errorf("output %q reads undeclared input %q", out.Name, out.From)
		}
		axes := inAxes
		if out.Axes != "" {
			normalized, err := tensor.NormalizeAxes(out.Axes)
			if err != nil {
				return nil, fmt.Errorf("output %q: %w", out.Name, err)
			}
			if normalized != inAxes {
				return nil, fmt.Errorf("output %q axes %q differ from input axes %q", out.Name, normalized, inAxes)
			}
		}
		dtype := tensor.Unknown
		if out.DType != "" {
			dt, err := tensor.ParseElementType(out.DType)
			if err != nil {
				return nil, fmt.Errorf("output %q: %w", out.Name, err)
			}
			dtype = dt
		}
		p, err := transform.Build(out.Pipeline)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", out.Name, err)
		}
		m.outputs = append(m.outputs, output{name: out.Name, axes: axes, from: out.From, dtype: dtype, pipeline: p})
	}
	return m, nil
}

func (a *Adapter) Run(_ context.Context, h backend.ModelHandle, inputs []backend.TensorBuffer) ([]backend.TensorBuffer, error) {
	a.mu.RLock()
	m, ok := a.models[h]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", backend.ErrUnknownModel, h)
	}

	byName := make(map[string]backend.TensorBuffer, len(inputs))
	for _, in := range inputs {
		byName[in.Name] = in
	}

	outputs := make([]backend.TensorBuffer, 0, len(m.outputs))
	for _, out := range m.outputs {
		in, ok := byName[out.from]
		if !ok {
			return nil, fmt.Errorf("missing input %q", out.from)
		}
		if in.Axes != out.axes {
			return nil, fmt.Errorf("input %q has axes %q, model expects %q", in.Name, in.Axes, out.axes)
		}
		t, err := tensor.FromBuffer(out.name, out.axes, in.Buffer.Clone())
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", in.Name, err)
		}
		if err := out.pipeline.Apply(t); err != nil {
			return nil, fmt.Errorf("output %q: %w", out.name, err)
		}
		buf, err := tensor.ToBuffer(t, tensor.WithRelease())
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", out.name, err)
		}
		if out.dtype != tensor.Unknown {
			if buf, err = tensor.Cast(buf, out.dtype); err != nil {
				return nil, fmt.Errorf("output %q: %w", out.name, err)
			}
		}
		outputs = append(outputs, backend.TensorBuffer{Name: out.name, Axes: out.axes, Buffer: buf})
	}
	return outputs, nil
}

func (a *Adapter) Unload(_ context.Context, h backend.ModelHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.models[h]; !ok {
		return fmt.Errorf("%w: %q", backend.ErrUnknownModel, h)
	}
	delete(a.models, h)
	return nil
}

func (a *Adapter) Close(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	clear(a.models)
	return nil
}
