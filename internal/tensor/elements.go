package tensor

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

type number interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~int64 | ~float32 | ~float64
}

// elementTypeOf reports the element type and length of a supported typed slice.
func elementTypeOf(array any) (ElementType, int, error) {
	switch v := array.(type) {
	case []float32:
		return Float32, len(v), nil
	case []float64:
		return Float64, len(v), nil
	case []float16.Float16:
		return Float16, len(v), nil
	case []int8:
		return Int8, len(v), nil
	case []uint8:
		return Uint8, len(v), nil
	case []int16:
		return Int16, len(v), nil
	case []uint16:
		return Uint16, len(v), nil
	case []int32:
		return Int32, len(v), nil
	case []int64:
		return Int64, len(v), nil
	default:
		return Unknown, 0, fmt.Errorf("%w: unsupported array type %T", ErrUnsupportedConversion, array)
	}
}

func makeArray(dt ElementType, n int) any {
	switch dt {
	case Float32:
		return make([]float32, n)
	case Float64:
		return make([]float64, n)
	case Float16:
		return make([]float16.Float16, n)
	case Int8:
		return make([]int8, n)
	case Uint8:
		return make([]uint8, n)
	case Int16:
		return make([]int16, n)
	case Uint16:
		return make([]uint16, n)
	case Int32:
		return make([]int32, n)
	case Int64:
		return make([]int64, n)
	default:
		return nil
	}
}

func cloneArray(array any) any {
	switch v := array.(type) {
	case []float32:
		return append([]float32(nil), v...)
	case []float64:
		return append([]float64(nil), v...)
	case []float16.Float16:
		return append([]float16.Float16(nil), v...)
	case []int8:
		return append([]int8(nil), v...)
	case []uint8:
		return append([]uint8(nil), v...)
	case []int16:
		return append([]int16(nil), v...)
	case []uint16:
		return append([]uint16(nil), v...)
	case []int32:
		return append([]int32(nil), v...)
	case []int64:
		return append([]int64(nil), v...)
	default:
		return nil
	}
}

func widen[T number](v []T) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func narrow[T number](v []float64, dt ElementType) []T {
	out := make([]T, len(v))
	for i, x := range v {
		out[i] = T(saturate(x, dt))
	}
	return out
}

// valuesOf widens a typed slice to float64.
func valuesOf(array any) []float64 {
	switch v := array.(type) {
	case []float32:
		return widen(v)
	case []float64:
		return append([]float64(nil), v...)
	case []float16.Float16:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x.Float32())
		}
		return out
	case []int8:
		return widen(v)
	case []uint8:
		return widen(v)
	case []int16:
		return widen(v)
	case []uint16:
		return widen(v)
	case []int32:
		return widen(v)
	case []int64:
		return widen(v)
	default:
		return nil
	}
}

// arrayFromValues narrows float64 values to a typed slice of dt. Integer
// targets truncate toward zero and saturate at the type bounds.
func arrayFromValues(values []float64, dt ElementType) any {
	switch dt {
	case Float32:
		return narrow[float32](values, dt)
	case Float64:
		return append([]float64(nil), values...)
	case Float16:
		out := make([]float16.Float16, len(values))
		for i, x := range values {
			out[i] = float16.Fromfloat32(float32(x))
		}
		return out
	case Int8:
		return narrow[int8](values, dt)
	case Uint8:
		return narrow[uint8](values, dt)
	case Int16:
		return narrow[int16](values, dt)
	case Uint16:
		return narrow[uint16](values, dt)
	case Int32:
		return narrow[int32](values, dt)
	case Int64:
		return narrow[int64](values, dt)
	default:
		return nil
	}
}

var intBounds = map[ElementType][2]float64{
	Int8:   {math.MinInt8, math.MaxInt8},
	Uint8:  {0, math.MaxUint8},
	Int16:  {math.MinInt16, math.MaxInt16},
	Uint16: {0, math.MaxUint16},
	Int32:  {math.MinInt32, math.MaxInt32},
	Int64:  {math.MinInt64, math.Nextafter(math.MaxInt64, 0)},
}

func saturate(x float64, dt ElementType) float64 {
	bounds, ok := intBounds[dt]
	if !ok {
		return x
	}
	if math.IsNaN(x) {
		return 0
	}
	x = math.Trunc(x)
	return math.Max(bounds[0], math.Min(bounds[1], x))
}

// encodeArray lays out a typed slice as little-endian bytes.
func encodeArray(array any) ([]byte, error) {
	if halves, ok := array.([]float16.Float16); ok {
		out := make([]byte, 2*len(halves))
		for i, h := range halves {
			binary.LittleEndian.PutUint16(out[2*i:], h.Bits())
		}
		return out, nil
	}
	dt, n, err := elementTypeOf(array)
	if err != nil {
		return nil, err
	}
	out, err := binary.Append(make([]byte, 0, n*dt.Size()), binary.LittleEndian, array)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", dt, err)
	}
	return out, nil
}

// decodeBytes reads n little-endian elements of dt from data.
func decodeBytes(data []byte, dt ElementType, n int) (any, error) {
	if want := n * dt.Size(); len(data) != want {
		return nil, fmt.Errorf("%w: %d bytes for %d %s elements (want %d)",
			ErrUnsupportedConversion, len(data), n, dt, want)
	}
	if dt == Float16 {
		out := make([]float16.Float16, n)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(data[2*i:]))
		}
		return out, nil
	}
	out := makeArray(dt, n)
	if out == nil {
		return nil, fmt.Errorf("%w: element type %s", ErrUnsupportedConversion, dt)
	}
	if _, err := binary.Decode(data, binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", dt, err)
	}
	return out, nil
}
