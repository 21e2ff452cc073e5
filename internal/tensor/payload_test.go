package tensor_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/modelrunner/internal/tensor"
)

func TestPayloadDefaultsToFloat32(t *testing.T) {
	x, err := tensor.Payload{Name: "x", Axes: "YX", Shape: []int{1, 2}, Data: []float64{0.5, 2}}.Tensor()
	require.NoError(t, err)
	assert.Equal(t, tensor.Float32, x.DType())
	assert.Equal(t, "yx", x.Axes())
	arr, err := x.Array()
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 2}, arr)
}

func TestPayloadSaturatesIntegers(t *testing.T) {
	x, err := tensor.Payload{Name: "x", Axes: "x", DType: tensor.Uint8, Shape: []int{3}, Data: []float64{-4, 7.9, 300}}.Tensor()
	require.NoError(t, err)
	arr, err := x.Array()
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 7, 255}, arr)
}

func TestPayloadEmptyPlaceholder(t *testing.T) {
	x, err := tensor.Payload{Name: "out", Axes: "bcyx"}.Tensor()
	require.NoError(t, err)
	assert.True(t, x.IsEmpty())

	p, err := tensor.PayloadOf(x)
	require.NoError(t, err)
	assert.Nil(t, p.Data)
}

func TestPayloadRejectsMismatch(t *testing.T) {
	_, err := tensor.Payload{Name: "x", Axes: "yx", Shape: []int{2, 2}, Data: []float64{1, 2, 3}}.Tensor()
	assert.ErrorIs(t, err, tensor.ErrInvalidTensor)
}

func TestPayloadOfBufferForm(t *testing.T) {
	x, err := tensor.New("x", "x", []int{2}, []int16{-1, 5})
	require.NoError(t, err)
	require.NoError(t, x.ArrayToBuffer())

	p, err := tensor.PayloadOf(x)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, 5}, p.Data)
	assert.Equal(t, tensor.FormBuffer, x.Form(), "payload capture changed the form")

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"x","axes":"x","dtype":"int16","shape":[2],"data":[-1,5]}`, string(data))
}
