package transform

import (
	"fmt"

	"github.com/seantiz/modelrunner/internal/tensor"
)

// Names of the element-wise operations.
const (
	ClipName     = "clip"
	BinarizeName = "binarize"
)

// Clip bounds every value to [min, max]. Output is float32.
type Clip struct {
	min, max float64
}

// NewClip builds a Clip from the required "min" and "max".
func NewClip(p Params) (Operation, error) {
	lo, ok, err := p.Float("min")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: \"min\" is required", ErrInvalidParameter)
	}
	hi, ok, err := p.Float("max")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: \"max\" is required", ErrInvalidParameter)
	}
	if lo > hi {
		return nil, fmt.Errorf("%w: min %g > max %g", ErrInvalidParameter, lo, hi)
	}
	return &Clip{min: lo, max: hi}, nil
}

func (c *Clip) Name() string                 { return ClipName }
func (c *Clip) Check(t *tensor.Tensor) error { return requireData(ClipName, t) }

func (c *Clip) Apply(t *tensor.Tensor) error {
	if err := c.Check(t); err != nil {
		return err
	}
	vals, err := t.Values()
	if err != nil {
		return err
	}
	parallelFor(len(vals), func(i int) {
		vals[i] = min(max(vals[i], c.min), c.max)
	})
	return storeFloat32(t, vals)
}

// Binarize maps values above threshold to 1 and everything else to 0.
// Output is float32.
type Binarize struct {
	threshold float64
}

// NewBinarize builds a Binarize from the required "threshold".
func NewBinarize(p Params) (Operation, error) {
	th, ok, err := p.Float("threshold")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: \"threshold\" is required", ErrInvalidParameter)
	}
	return &Binarize{threshold: th}, nil
}

func (b *Binarize) Name() string                 { return BinarizeName }
func (b *Binarize) Check(t *tensor.Tensor) error { return requireData(BinarizeName, t) }

func (b *Binarize) Apply(t *tensor.Tensor) error {
	if err := b.Check(t); err != nil {
		return err
	}
	vals, err := t.Values()
	if err != nil {
		return err
	}
	parallelFor(len(vals), func(i int) {
		if vals[i] > b.threshold {
			vals[i] = 1
		} else {
			vals[i] = 0
		}
	})
	return storeFloat32(t, vals)
}
