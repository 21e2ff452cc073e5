package transform

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/seantiz/modelrunner/internal/tensor"
)

// ScaleLinearName is the registered name of ScaleLinear.
const ScaleLinearName = "scale_linear"

// ScaleLinear computes out = in*gain + offset and stores float32.
//
// gain and offset are scalars or lists. A list applies element k to index k
// along the single axis named by the "axes" parameter, whose size must equal
// the list length.
type ScaleLinear struct {
	gain   []float64
	offset []float64
	axis   rune
}

// NewScaleLinear builds a ScaleLinear from "gain", "offset" and, for lists,
// "axes".
func NewScaleLinear(p Params) (Operation, error) {
	gain, ok, err := p.Floats("gain")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: \"gain\" is required", ErrInvalidParameter)
	}
	offset, ok, err := p.Floats("offset")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: \"offset\" is required", ErrInvalidParameter)
	}
	axes, _, err := p.String("axes")
	if err != nil {
		return nil, err
	}

	op := &ScaleLinear{gain: gain, offset: offset}
	if len(gain) == 1 && len(offset) == 1 {
		return op, nil
	}
	if len(axes) != 1 {
		return nil, fmt.Errorf("%w: per-axis gain/offset needs exactly one axis in \"axes\", got %q", ErrInvalidParameter, axes)
	}
	if len(gain) > 1 && len(offset) > 1 && len(gain) != len(offset) {
		return nil, fmt.Errorf("%w: gain has %d values, offset has %d", ErrInvalidParameter, len(gain), len(offset))
	}
	op.axis = rune(axes[0])
	return op, nil
}

func (s *ScaleLinear) Name() string { return ScaleLinearName }

func (s *ScaleLinear) perAxis() bool { return s.axis != 0 }

func (s *ScaleLinear) Check(t *tensor.Tensor) error {
	if err := requireData(ScaleLinearName, t); err != nil {
		return err
	}
	if !s.perAxis() {
		return nil
	}
	if t.AxisIndex(s.axis) < 0 {
		return fmt.Errorf("%s: %w: axis %q not in %q", ScaleLinearName, ErrInvalidParameter, s.axis, t.Axes())
	}
	size := t.Dim(s.axis)
	for name, list := range map[string][]float64{"gain": s.gain, "offset": s.offset} {
		if len(list) != 1 && len(list) != size {
			return fmt.Errorf("%s: %w: %s has %d values but axis %q has size %d",
				ScaleLinearName, ErrInvalidParameter, name, len(list), s.axis, size)
		}
	}
	return nil
}

func (s *ScaleLinear) Apply(t *tensor.Tensor) error {
	if err := s.Check(t); err != nil {
		return err
	}
	vals, err := t.Values()
	if err != nil {
		return err
	}

	if !s.perAxis() {
		floats.Scale(s.gain[0], vals)
		floats.AddConst(s.offset[0], vals)
		return storeFloat32(t, vals)
	}

	d := t.AxisIndex(s.axis)
	shape := t.Shape()
	stride := tensor.Strides(shape)[d]
	pick := func(list []float64, c int) float64 {
		if len(list) == 1 {
			return list[0]
		}
		return list[c]
	}
	parallelFor(len(vals), func(i int) {
		c := i / stride % shape[d]
		vals[i] = vals[i]*pick(s.gain, c) + pick(s.offset, c)
	})
	return storeFloat32(t, vals)
}
