package transform_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/modelrunner/internal/tensor"
	"github.com/seantiz/modelrunner/internal/transform"
)

const eps = 1e-6

func seq(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i)
	}
	return out
}

func newTensor(t *testing.T, axes string, shape []int, data any) *tensor.Tensor {
	t.Helper()
	tt, err := tensor.New("input", axes, shape, data)
	require.NoError(t, err)
	return tt
}

func newOp(t *testing.T, name string, kwargs map[string]any) transform.Operation {
	t.Helper()
	params, err := transform.NormalizeParams(kwargs)
	require.NoError(t, err)
	op, err := transform.New(name, params)
	require.NoError(t, err)
	return op
}

func values(t *testing.T, tt *tensor.Tensor) []float64 {
	t.Helper()
	vals, err := tt.Values()
	require.NoError(t, err)
	return vals
}

func TestScaleLinearIsInvertible(t *testing.T) {
	in := []float32{-3, 0, 1.5, 2, 7, 1000}
	tt := newTensor(t, "yx", []int{2, 3}, append([]float32(nil), in...))
	gain, offset := 0.37, -12.5

	op := newOp(t, "scale_linear", map[string]any{"gain": gain, "offset": offset})
	require.NoError(t, op.Apply(tt))
	assert.Equal(t, tensor.Float32, tt.DType())
	assert.Equal(t, "yx", tt.Axes())
	assert.Equal(t, []int{2, 3}, tt.Shape())

	for i, v := range values(t, tt) {
		assert.InDelta(t, float64(in[i]), (v-offset)/gain, 1e-3, "element %d", i)
	}
}

func TestScaleLinearConvertsIntegers(t *testing.T) {
	tt := newTensor(t, "x", []int{3}, []uint8{0, 10, 255})
	op := newOp(t, "scale_linear", map[string]any{"gain": 2, "offset": 1})
	require.NoError(t, op.Apply(tt))
	assert.Equal(t, tensor.Float32, tt.DType())
	assert.Equal(t, []float64{1, 21, 511}, values(t, tt))
}

func TestScaleLinearPerAxis(t *testing.T) {
	tt := newTensor(t, "cyx", []int{2, 1, 2}, []float32{1, 2, 3, 4})
	op := newOp(t, "scale_linear", map[string]any{
		"gain":   []any{1, 10},
		"offset": []any{0, 100},
		"axes":   "c",
	})
	require.NoError(t, op.Apply(tt))
	assert.Equal(t, []float64{1, 2, 130, 140}, values(t, tt))
}

func TestScaleLinearInvalidParameters(t *testing.T) {
	tests := []struct {
		name   string
		kwargs map[string]any
	}{
		{"missing gain", map[string]any{"offset": 1}},
		{"missing offset", map[string]any{"gain": 1}},
		{"list without axes", map[string]any{"gain": []any{1, 2}, "offset": 0}},
		{"two axes", map[string]any{"gain": []any{1, 2}, "offset": 0, "axes": "cy"}},
		{"list lengths differ", map[string]any{"gain": []any{1, 2}, "offset": []any{1, 2, 3}, "axes": "c"}},
		{"string gain", map[string]any{"gain": "one", "offset": 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := transform.NormalizeParams(tt.kwargs)
			require.NoError(t, err)
			_, err = transform.New("scale_linear", params)
			assert.ErrorIs(t, err, transform.ErrInvalidParameter)
		})
	}
}

func TestScaleLinearAxisLengthMismatch(t *testing.T) {
	in := []float32{1, 2, 3, 4, 5, 6}
	tt := newTensor(t, "cx", []int{3, 2}, in)
	op := newOp(t, "scale_linear", map[string]any{"gain": []any{1, 2}, "offset": 0, "axes": "c"})

	err := op.Apply(tt)
	assert.ErrorIs(t, err, transform.ErrInvalidParameter)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, values(t, tt))

	missing := newOp(t, "scale_linear", map[string]any{"gain": []any{1, 2}, "offset": 0, "axes": "z"})
	assert.ErrorIs(t, missing.Check(tt), transform.ErrInvalidParameter)
}

func TestScaleRangeGlobal(t *testing.T) {
	tt := newTensor(t, "xy", []int{3, 3}, seq(9))
	op := newOp(t, "scale_range", map[string]any{"min_percentile": 0, "max_percentile": 100})
	require.NoError(t, op.Apply(tt))

	vals := values(t, tt)
	assert.InDelta(t, 0, vals[0], 1e-7)
	assert.InDelta(t, 8/(8+eps), vals[8], 1e-6)
	assert.Less(t, vals[8], 1.0)
	for i := 1; i < len(vals); i++ {
		assert.Greater(t, vals[i], vals[i-1])
	}
}

func TestScaleRangeDefaults(t *testing.T) {
	tt := newTensor(t, "x", []int{3}, []float64{10, 15, 20})
	op := newOp(t, "scale_range", nil)
	require.NoError(t, op.Apply(tt))
	assert.InDeltaSlice(t, []float64{0, 0.5, 1}, values(t, tt), 1e-5)
}

func TestScaleRangePerPlane(t *testing.T) {
	op := newOp(t, "scale_range", map[string]any{
		"min_percentile": 1,
		"max_percentile": 99,
		"axes":           "xy",
	})

	// Row-major xyc: channel 0 holds the even values, channel 1 the odd ones.
	tt := newTensor(t, "xyc", []int{3, 3, 2}, seq(18))
	require.NoError(t, op.Apply(tt))
	vals := values(t, tt)

	lo0, hi0 := 16*0.01, 16*0.99
	lo1, hi1 := 1+16*0.01, 1+16*0.99
	for i, v := range vals {
		lo, hi := lo0, hi0
		if i%2 == 1 {
			lo, hi = lo1, hi1
		}
		want := (float64(i) - lo) / (hi - lo + eps)
		assert.InDelta(t, want, v, 1e-5, "element %d", i)
	}

	// Raising the extreme of channel 1 must not move channel 0.
	data := seq(18)
	data[17] = 1000
	other := newTensor(t, "xyc", []int{3, 3, 2}, data)
	require.NoError(t, op.Apply(other))
	changed := values(t, other)
	for i := 0; i < 18; i += 2 {
		assert.Equal(t, vals[i], changed[i], "channel 0 element %d", i)
	}
	assert.NotEqual(t, vals[3], changed[3])
}

func TestScaleRangeBatchIsPartOfPlane(t *testing.T) {
	op := newOp(t, "scale_range", map[string]any{"axes": "x"})
	// b=2, c=2, x=2: statistics per channel, each spanning both batches.
	tt := newTensor(t, "bcx", []int{2, 2, 2}, []float32{0, 1, 10, 20, 2, 4, 30, 40})
	require.NoError(t, op.Apply(tt))
	vals := values(t, tt)
	assert.InDelta(t, 0, vals[0], 1e-6)
	assert.InDelta(t, 1, vals[5], 1e-5)
	assert.InDelta(t, 0, vals[2], 1e-6)
	assert.InDelta(t, 1, vals[7], 1e-5)
}

func TestScaleRangeScopeRules(t *testing.T) {
	tests := []struct {
		name  string
		axes  string
		named string
		err   error
	}{
		{"all non-batch named", "bcyx", "cyx", nil},
		{"named axes absent", "bcyx", "z", nil},
		{"one axis", "bcyx", "x", nil},
		{"two axes", "bcyx", "yx", nil},
		{"three axes", "bczyx", "zyx", transform.ErrUnsupportedScope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shape := make([]int, len(tt.axes))
			for i := range shape {
				shape[i] = 2
			}
			n := tensor.NumElements(shape)
			in := newTensor(t, tt.axes, shape, seq(n))
			op := newOp(t, "scale_range", map[string]any{"axes": tt.named})
			err := op.Apply(in)
			if tt.err == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tensor.Float32, in.DType())
			assert.InDelta(t, float64(n-1), values(t, in)[n-1], 0)
		})
	}
}

func TestScaleRangeInvalidParameters(t *testing.T) {
	for _, kwargs := range []map[string]any{
		{"mode": "per_dataset"},
		{"mode": "sideways"},
		{"min_percentile": 50, "max_percentile": 10},
		{"max_percentile": 101},
		{"eps": 0},
	} {
		params, err := transform.NormalizeParams(kwargs)
		require.NoError(t, err)
		_, err = transform.New("scale_range", params)
		assert.ErrorIs(t, err, transform.ErrInvalidParameter, "%v", kwargs)
	}
}

func TestClipAndBinarize(t *testing.T) {
	tt := newTensor(t, "x", []int{5}, []float64{-2, -0.5, 0.5, 1.5, 3})
	require.NoError(t, newOp(t, "clip", map[string]any{"min": -1, "max": 1}).Apply(tt))
	assert.Equal(t, []float64{-1, -0.5, 0.5, 1, 1}, values(t, tt))

	require.NoError(t, newOp(t, "binarize", map[string]any{"threshold": 0}).Apply(tt))
	assert.Equal(t, []float64{0, 0, 1, 1, 1}, values(t, tt))

	_, err := transform.New("clip", transform.Params{"min": 2.0, "max": 1.0})
	assert.ErrorIs(t, err, transform.ErrInvalidParameter)
	_, err = transform.New("binarize", transform.Params{})
	assert.ErrorIs(t, err, transform.ErrInvalidParameter)
}

func TestZeroMeanUnitVariance(t *testing.T) {
	tt := newTensor(t, "x", []int{4}, []float32{1, 2, 3, 4})
	require.NoError(t, newOp(t, "zero_mean_unit_variance", nil).Apply(tt))
	std := 1.118033988749895
	assert.InDeltaSlice(t, []float64{-1.5 / std, -0.5 / std, 0.5 / std, 1.5 / std}, values(t, tt), 1e-5)

	fixed := newTensor(t, "x", []int{2}, []float32{10, 20})
	op := newOp(t, "zero_mean_unit_variance", map[string]any{"mode": "fixed", "mean": 10, "std": 5})
	require.NoError(t, op.Apply(fixed))
	assert.InDeltaSlice(t, []float64{0, 2}, values(t, fixed), 1e-5)

	_, err := transform.New("zero_mean_unit_variance", transform.Params{"mode": "fixed"})
	assert.ErrorIs(t, err, transform.ErrInvalidParameter)
}

func TestZeroMeanUnitVariancePerPlane(t *testing.T) {
	tt := newTensor(t, "cx", []int{2, 2}, []float32{0, 2, 100, 300})
	op := newOp(t, "zero_mean_unit_variance", map[string]any{"axes": "x"})
	require.NoError(t, op.Apply(tt))
	assert.InDeltaSlice(t, []float64{-1, 1, -1, 1}, values(t, tt), 1e-5)
}

func TestOperationsRejectEmptyTensors(t *testing.T) {
	empty, err := tensor.NewEmpty("out", "yx")
	require.NoError(t, err)
	for _, name := range transform.Names() {
		var kwargs map[string]any
		switch name {
		case "scale_linear":
			kwargs = map[string]any{"gain": 1, "offset": 0}
		case "clip":
			kwargs = map[string]any{"min": 0, "max": 1}
		case "binarize":
			kwargs = map[string]any{"threshold": 0.5}
		}
		op := newOp(t, name, kwargs)
		assert.ErrorIs(t, op.Check(empty), tensor.ErrEmptyTensor, name)
	}
}

func TestUnknownOperation(t *testing.T) {
	_, err := transform.New("sigmoid", nil)
	assert.ErrorIs(t, err, transform.ErrUnknownOperation)
}
