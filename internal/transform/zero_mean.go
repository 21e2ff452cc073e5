package transform

import (
	"fmt"

	"github.com/seantiz/modelrunner/internal/tensor"
)

// ZeroMeanUnitVarianceName is the registered name of ZeroMeanUnitVariance.
const ZeroMeanUnitVarianceName = "zero_mean_unit_variance"

// ZeroMeanUnitVariance computes out = (in - mean) / (std + eps). In
// per_sample mode mean and std are computed per scope, with the same scope
// rules as ScaleRange; in fixed mode they are given. Output is float32.
type ZeroMeanUnitVariance struct {
	fixed bool
	mean  float64
	std   float64
	axes  string
	eps   float64
}

// NewZeroMeanUnitVariance builds the operation from "mode" (per_sample or
// fixed), "mean" and "std" (fixed only), "axes" and "eps".
func NewZeroMeanUnitVariance(p Params) (Operation, error) {
	mode, _, err := p.String("mode")
	if err != nil {
		return nil, err
	}
	axes, _, err := p.String("axes")
	if err != nil {
		return nil, err
	}
	eps, err := p.FloatOr("eps", DefaultEpsilon)
	if err != nil {
		return nil, err
	}
	if eps <= 0 {
		return nil, fmt.Errorf("%w: eps must be positive, got %g", ErrInvalidParameter, eps)
	}
	op := &ZeroMeanUnitVariance{axes: axes, eps: eps}

	switch mode {
	case "", ModePerSample:
		return op, nil
	case ModeFixed:
	default:
		return nil, fmt.Errorf("%w: mode %q (want %q or %q)", ErrInvalidParameter, mode, ModePerSample, ModeFixed)
	}

	mean, ok, err := p.Float("mean")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: fixed mode requires \"mean\"", ErrInvalidParameter)
	}
	std, ok, err := p.Float("std")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: fixed mode requires \"std\"", ErrInvalidParameter)
	}
	if std < 0 {
		return nil, fmt.Errorf("%w: std must not be negative, got %g", ErrInvalidParameter, std)
	}
	op.fixed, op.mean, op.std = true, mean, std
	return op, nil
}

func (z *ZeroMeanUnitVariance) Name() string { return ZeroMeanUnitVarianceName }

func (z *ZeroMeanUnitVariance) Check(t *tensor.Tensor) error {
	if err := requireData(ZeroMeanUnitVarianceName, t); err != nil {
		return err
	}
	if z.fixed {
		return nil
	}
	return checkScope(ZeroMeanUnitVarianceName, t, z.axes)
}

func (z *ZeroMeanUnitVariance) Apply(t *tensor.Tensor) error {
	if err := z.Check(t); err != nil {
		return err
	}
	vals, err := t.Values()
	if err != nil {
		return err
	}

	if z.fixed {
		parallelFor(len(vals), func(i int) {
			vals[i] = (vals[i] - z.mean) / (z.std + z.eps)
		})
		return storeFloat32(t, vals)
	}

	sc, err := resolveScope(ZeroMeanUnitVarianceName, t, z.axes)
	if err != nil {
		return err
	}
	stats := computeGroups(sc.split(vals), meanStd)
	parallelFor(len(vals), func(i int) {
		st := stats[sc.group[i]]
		vals[i] = (vals[i] - st.a) / (st.b + z.eps)
	})
	return storeFloat32(t, vals)
}
