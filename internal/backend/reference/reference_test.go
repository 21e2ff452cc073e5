package reference_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/modelrunner/internal/backend"
	"github.com/seantiz/modelrunner/internal/backend/reference"
	"github.com/seantiz/modelrunner/internal/tensor"
	"github.com/seantiz/modelrunner/internal/transform"
)

const graph = `
name: double-and-normalise
inputs:
  - name: input0
    axes: bcyx
outputs:
  - name: doubled
    from: input0
    pipeline:
      - name: scale_linear
        kwargs: {gain: 2, offset: 0}
  - name: normalised
    from: input0
    dtype: float64
    pipeline:
      - name: scale_range
        kwargs: {min_percentile: 0, max_percentile: 100}
`

func writeWeights(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newAdapter(t *testing.T) backend.Adapter {
	t.Helper()
	a, err := reference.Factory(slog.New(slog.NewJSONHandler(io.Discard, nil)))("/engines/reference")
	require.NoError(t, err)
	return a
}

func input(t *testing.T, vals []float32) backend.TensorBuffer {
	t.Helper()
	buf, err := tensor.Encode(vals, []int{1, 1, 2, 2})
	require.NoError(t, err)
	return backend.TensorBuffer{Name: "input0", Axes: "bcyx", Buffer: buf}
}

func TestRunComputesOutputs(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()
	h, err := a.Load(ctx, backend.ModelSpec{Weights: writeWeights(t, graph)})
	require.NoError(t, err)

	in := input(t, []float32{0, 1, 2, 4})
	out, err := a.Run(ctx, h, []backend.TensorBuffer{in})
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "doubled", out[0].Name)
	assert.Equal(t, "bcyx", out[0].Axes)
	doubled, err := tensor.Decode(out[0].Buffer, tensor.Float32)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 2, 4, 8}, doubled)

	assert.Equal(t, tensor.Float64, out[1].Buffer.DType)
	norm, err := tensor.Decode(out[1].Buffer, tensor.Float64)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0.25, 0.5, 1}, norm, 1e-5)

	// The caller's buffer is not modified.
	orig, err := tensor.Decode(in.Buffer, tensor.Float32)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 2, 4}, orig)
}

func TestRunErrors(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()
	h, err := a.Load(ctx, backend.ModelSpec{Weights: writeWeights(t, graph)})
	require.NoError(t, err)

	_, err = a.Run(ctx, h, nil)
	assert.ErrorContains(t, err, `missing input "input0"`)

	wrongAxes := input(t, []float32{1, 2, 3, 4})
	wrongAxes.Axes = "bcxy"
	_, err = a.Run(ctx, h, []backend.TensorBuffer{wrongAxes})
	assert.ErrorContains(t, err, "axes")

	_, err = a.Run(ctx, "reference-99", nil)
	assert.ErrorIs(t, err, backend.ErrUnknownModel)
}

func TestLoadRejectsBadGraphs(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	tests := map[string]string{
		"no outputs":       "name: x\ninputs: [{name: a, axes: x}]\n",
		"undeclared input": "inputs: [{name: a, axes: x}]\noutputs: [{name: o, from: b}]\n",
		"bad dtype":        "inputs: [{name: a, axes: x}]\noutputs: [{name: o, from: a, dtype: complex}]\n",
		"axes differ":      "inputs: [{name: a, axes: yx}]\noutputs: [{name: o, from: a, axes: xy}]\n",
		"bad op":           "inputs: [{name: a, axes: x}]\noutputs: [{name: o, from: a, pipeline: [{name: fft}]}]\n",
		"not yaml":         "{{{",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := a.Load(ctx, backend.ModelSpec{Weights: writeWeights(t, content)})
			assert.Error(t, err)
		})
	}

	_, err := a.Load(ctx, backend.ModelSpec{Weights: filepath.Join(t.TempDir(), "absent.yaml")})
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, err = a.Load(ctx, backend.ModelSpec{Weights: writeWeights(t, "inputs: [{name: a, axes: x}]\noutputs: [{name: o, from: a, pipeline: [{name: nope}]}]\n")})
	assert.ErrorIs(t, err, transform.ErrUnknownOperation)
}

func TestFactoryInstancesAreIndependent(t *testing.T) {
	ctx := context.Background()
	a := newAdapter(t).(*reference.Adapter)
	b := newAdapter(t).(*reference.Adapter)

	h, err := a.Load(ctx, backend.ModelSpec{Weights: writeWeights(t, graph)})
	require.NoError(t, err)
	assert.Equal(t, 1, a.Loaded())
	assert.Equal(t, 0, b.Loaded())

	_, err = b.Run(ctx, h, []backend.TensorBuffer{input(t, []float32{1, 2, 3, 4})})
	assert.ErrorIs(t, err, backend.ErrUnknownModel)
}

func TestUnloadAndClose(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()
	h, err := a.Load(ctx, backend.ModelSpec{Weights: writeWeights(t, graph)})
	require.NoError(t, err)

	require.NoError(t, a.Unload(ctx, h))
	assert.ErrorIs(t, a.Unload(ctx, h), backend.ErrUnknownModel)

	require.NoError(t, a.Close(ctx))
	_, err = a.Load(ctx, backend.ModelSpec{Weights: writeWeights(t, graph)})
	assert.ErrorIs(t, err, backend.ErrAdapterCorrupted)
	assert.True(t, a.Info().Concurrent)
}
