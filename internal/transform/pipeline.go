package transform

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/modelrunner/internal/tensor"
)

// Step is the declarative form of one operation, as found in a model
// description's preprocessing or postprocessing list.
type Step struct {
	Name   string         `yaml:"name" json:"name"`
	Kwargs map[string]any `yaml:"kwargs,omitempty" json:"kwargs,omitempty"`
}

// Pipeline applies operations in order.
type Pipeline struct {
	ops []Operation
}

// NewPipeline chains already constructed operations.
func NewPipeline(ops ...Operation) *Pipeline {
	return &Pipeline{ops: ops}
}

// Build constructs each step from the default registry.
func Build(steps []Step) (*Pipeline, error) {
	ops := make([]Operation, 0, len(steps))
	for i, step := range steps {
		params, err := NormalizeParams(step.Kwargs)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Name, err)
		}
		op, err := New(step.Name, params)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	return NewPipeline(ops...), nil
}

// ParsePipeline reads a YAML sequence of steps, each a mapping with a name
// and optional kwargs, such as [{name: clip, kwargs: {min: 0, max: 1}}].
func ParsePipeline(data []byte) (*Pipeline, error) {
	var steps []Step
	if err := yaml.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("parse pipeline: %w", err)
	}
	return Build(steps)
}

// Len returns the number of operations.
func (p *Pipeline) Len() int { return len(p.ops) }

// Names returns the operation names in order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.ops))
	for i, op := range p.ops {
		names[i] = op.Name()
	}
	return names
}

// Check runs every operation's Check against t.
func (p *Pipeline) Check(t *tensor.Tensor) error {
	for i, op := range p.ops {
		if err := op.Check(t); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

// Apply checks every operation first, then applies them left to right. A
// tensor that fails a check is left untouched.
func (p *Pipeline) Apply(t *tensor.Tensor) error {
	if err := p.Check(t); err != nil {
		return err
	}
	for i, op := range p.ops {
		if err := op.Apply(t); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}
