package tensor

import (
	"bytes"
	"fmt"
)

// FlatBuffer is the portable form of a tensor payload: row-major elements in
// little-endian byte order. It is the only form that crosses an engine
// boundary.
type FlatBuffer struct {
	DType ElementType `json:"dtype"`
	Shape []int       `json:"shape"`
	Data  []byte      `json:"data"`
}

// Validate checks that Data holds exactly prod(Shape) elements of DType.
func (b FlatBuffer) Validate() error {
	if !b.DType.Valid() {
		return fmt.Errorf("%w: buffer element type %s", ErrUnsupportedConversion, b.DType)
	}
	if err := validateShape(b.Shape); err != nil {
		return err
	}
	if want := NumElements(b.Shape) * b.DType.Size(); len(b.Data) != want {
		return fmt.Errorf("%w: buffer holds %d bytes, shape %v of %s needs %d",
			ErrUnsupportedConversion, len(b.Data), b.Shape, b.DType, want)
	}
	return nil
}

// Len returns the element count.
func (b FlatBuffer) Len() int { return NumElements(b.Shape) }

// Clone returns a deep copy.
func (b FlatBuffer) Clone() FlatBuffer {
	return FlatBuffer{DType: b.DType, Shape: cloneShape(b.Shape), Data: bytes.Clone(b.Data)}
}

// Equal reports whether two buffers carry the same type, shape and bytes.
func (b FlatBuffer) Equal(o FlatBuffer) bool {
	if b.DType != o.DType || len(b.Shape) != len(o.Shape) {
		return false
	}
	for i := range b.Shape {
		if b.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return bytes.Equal(b.Data, o.Data)
}

// Encode builds a buffer from a typed slice and shape.
func Encode(array any, shape []int) (FlatBuffer, error) {
	if err := validateShape(shape); err != nil {
		return FlatBuffer{}, err
	}
	dt, n, err := elementTypeOf(array)
	if err != nil {
		return FlatBuffer{}, err
	}
	if want := NumElements(shape); n != want {
		return FlatBuffer{}, fmt.Errorf("%w: %d elements for shape %v (want %d)", ErrInvalidTensor, n, shape, want)
	}
	data, err := encodeArray(array)
	if err != nil {
		return FlatBuffer{}, err
	}
	return FlatBuffer{DType: dt, Shape: cloneShape(shape), Data: data}, nil
}

// Decode returns the elements of b as a typed slice of want. A buffer of any
// other element type is rejected; use Cast to convert explicitly.
func Decode(b FlatBuffer, want ElementType) (any, error) {
	if b.DType != want {
		return nil, fmt.Errorf("%w: buffer holds %s, requested %s", ErrUnsupportedConversion, b.DType, want)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return decodeBytes(b.Data, b.DType, b.Len())
}

// Cast converts b to another element type through float64. Integer targets
// truncate toward zero and saturate at the type bounds.
func Cast(b FlatBuffer, to ElementType) (FlatBuffer, error) {
	if !to.Valid() {
		return FlatBuffer{}, fmt.Errorf("%w: element type %s", ErrUnsupportedConversion, to)
	}
	if b.DType == to {
		return b.Clone(), nil
	}
	array, err := Decode(b, b.DType)
	if err != nil {
		return FlatBuffer{}, err
	}
	return Encode(arrayFromValues(valuesOf(array), to), b.Shape)
}

// BufferOption configures ToBuffer.
type BufferOption func(*bufferOptions)

type bufferOptions struct {
	release bool
}

// WithRelease empties the source tensor once its buffer has been taken, so a
// large payload is never held twice.
func WithRelease() BufferOption {
	return func(o *bufferOptions) { o.release = true }
}

// ToBuffer returns the flat buffer form of t. Without WithRelease the tensor
// is left exactly as it was.
func ToBuffer(t *Tensor, opts ...BufferOption) (FlatBuffer, error) {
	var o bufferOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !o.release {
		return t.AsBuffer()
	}
	if err := t.ArrayToBuffer(); err != nil {
		return FlatBuffer{}, err
	}
	buf := t.buf
	t.Release()
	return buf, nil
}
