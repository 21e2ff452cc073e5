package transform

import (
	"fmt"

	"github.com/seantiz/modelrunner/internal/tensor"
)

// ScaleRangeName is the registered name of ScaleRange.
const ScaleRangeName = "scale_range"

// Statistic modes.
const (
	ModePerSample  = "per_sample"
	ModePerDataset = "per_dataset"
	ModeFixed      = "fixed"
)

// DefaultEpsilon keeps denominators away from zero.
const DefaultEpsilon = 1e-6

// ScaleRange normalises values into roughly [0, 1]:
//
//	out = (in - lo) / (hi - lo + eps)
//
// where lo and hi are the approximate min_percentile and max_percentile
// values of the scope the element belongs to. The percentile is taken as a
// linear interpolation between the scope's minimum and maximum, not as an
// order statistic. Output is float32.
type ScaleRange struct {
	low  float64 // fraction in [0, 1]
	high float64 // fraction in [0, 1]
	axes string
	eps  float64
}

// NewScaleRange builds a ScaleRange from "min_percentile" (default 0),
// "max_percentile" (default 100), "axes", "mode" and "eps".
func NewScaleRange(p Params) (Operation, error) {
	minP, err := p.FloatOr("min_percentile", 0)
	if err != nil {
		return nil, err
	}
	maxP, err := p.FloatOr("max_percentile", 100)
	if err != nil {
		return nil, err
	}
	if minP < 0 || maxP > 100 || minP >= maxP {
		return nil, fmt.Errorf("%w: percentiles must satisfy 0 <= min < max <= 100, got %g and %g",
			ErrInvalidParameter, minP, maxP)
	}
	mode, _, err := p.String("mode")
	if err != nil {
		return nil, err
	}
	if mode != "" && mode != ModePerSample {
		return nil, fmt.Errorf("%w: mode %q (only %q is supported)", ErrInvalidParameter, mode, ModePerSample)
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
	return &ScaleRange{low: minP / 100, high: maxP / 100, axes: axes, eps: eps}, nil
}

func (s *ScaleRange) Name() string { return ScaleRangeName }

func (s *ScaleRange) Check(t *tensor.Tensor) error {
	if err := requireData(ScaleRangeName, t); err != nil {
		return err
	}
	return checkScope(ScaleRangeName, t, s.axes)
}

func (s *ScaleRange) Apply(t *tensor.Tensor) error {
	if err := s.Check(t); err != nil {
		return err
	}
	sc, err := resolveScope(ScaleRangeName, t, s.axes)
	if err != nil {
		return err
	}
	vals, err := t.Values()
	if err != nil {
		return err
	}
	stats := computeGroups(sc.split(vals), percentileRange(s.low, s.high))
	parallelFor(len(vals), func(i int) {
		st := stats[sc.group[i]]
		vals[i] = (vals[i] - st.a) / (st.b - st.a + s.eps)
	})
	return storeFloat32(t, vals)
}
