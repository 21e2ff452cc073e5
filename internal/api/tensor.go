package api

import (
	"fmt"

	"github.com/seantiz/modelrunner/internal/tensor"
	"github.com/seantiz/modelrunner/internal/transform"
)

// applySteps runs the named pipelines over the matching tensors. Names with
// no tensor are rejected.
func applySteps(ts []*tensor.Tensor, steps map[string][]transform.Step) error {
	for name, list := range steps {
		t := tensor.Lookup(ts, name)
		if t == nil {
			return fmt.Errorf("%w: no tensor named %q", transform.ErrInvalidParameter, name)
		}
		p, err := transform.Build(list)
		if err != nil {
			return err
		}
		if err := p.Apply(t); err != nil {
			return fmt.Errorf("tensor %q: %w", name, err)
		}
	}
	return nil
}
