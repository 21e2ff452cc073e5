package tensor

import (
	"fmt"
	"strings"
)

// Form identifies which payload, if any, a tensor currently holds.
type Form int

const (
	FormEmpty Form = iota
	FormArray
	FormBuffer
)

func (f Form) String() string {
	switch f {
	case FormArray:
		return "array"
	case FormBuffer:
		return "buffer"
	default:
		return "empty"
	}
}

// Tensor is a named n-dimensional array. The payload lives in exactly one
// Form at a time; switching forms discards the previous one.
//
// A Tensor is not safe for concurrent mutation.
type Tensor struct {
	name  string
	axes  string
	shape []int
	dtype ElementType
	form  Form
	array any
	buf   FlatBuffer
}

// New creates a tensor holding a typed slice such as []float32. The slice is
// owned by the tensor afterwards.
func New(name, axes string, shape []int, array any) (*Tensor, error) {
	t, err := NewEmpty(name, axes)
	if err != nil {
		return nil, err
	}
	if err := t.SetArray(shape, array); err != nil {
		return nil, err
	}
	return t, nil
}

// FromValues creates a tensor of element type dt from float64 values, as they
// arrive from JSON. Integer types truncate and saturate.
func FromValues(name, axes string, shape []int, dt ElementType, values []float64) (*Tensor, error) {
	array := arrayFromValues(values, dt)
	if array == nil {
		return nil, fmt.Errorf("%w: unsupported element type %q", ErrInvalidTensor, dt)
	}
	return New(name, axes, shape, array)
}

// NewEmpty creates a placeholder with axes but no payload or shape, typically
// an output to be filled by inference.
func NewEmpty(name, axes string) (*Tensor, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidTensor)
	}
	normalized, err := NormalizeAxes(axes)
	if err != nil {
		return nil, err
	}
	return &Tensor{name: name, axes: normalized}, nil
}

// FromBuffer creates a tensor in buffer form. The buffer's shape must have one
// dimension per axis label.
func FromBuffer(name, axes string, buf FlatBuffer) (*Tensor, error) {
	t, err := NewEmpty(name, axes)
	if err != nil {
		return nil, err
	}
	if err := t.SetBuffer(buf); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tensor) Name() string             { return t.name }
func (t *Tensor) Axes() string             { return t.axes }
func (t *Tensor) DType() ElementType       { return t.dtype }
func (t *Tensor) Form() Form               { return t.form }
func (t *Tensor) IsEmpty() bool            { return t.form == FormEmpty }
func (t *Tensor) Shape() []int             { return cloneShape(t.shape) }
func (t *Tensor) AxisIndex(label rune) int { return strings.IndexRune(t.axes, label) }

// Len returns the element count, or 0 for an empty tensor.
func (t *Tensor) Len() int {
	if t.form == FormEmpty {
		return 0
	}
	return NumElements(t.shape)
}

// Dim returns the size of the axis with the given label, or 0 when the label
// is absent or the tensor is empty.
func (t *Tensor) Dim(label rune) int {
	i := t.AxisIndex(label)
	if i < 0 || t.form == FormEmpty {
		return 0
	}
	return t.shape[i]
}

// SetArray replaces the payload with a typed slice.
func (t *Tensor) SetArray(shape []int, array any) error {
	if err := checkRank(t.axes, shape); err != nil {
		return err
	}
	dt, n, err := elementTypeOf(array)
	if err != nil {
		return err
	}
	if want := NumElements(shape); n != want {
		return fmt.Errorf("%w: %d elements for shape %v (want %d)", ErrInvalidTensor, n, shape, want)
	}
	t.shape = cloneShape(shape)
	t.dtype = dt
	t.form = FormArray
	t.array = array
	t.buf = FlatBuffer{}
	return nil
}

// SetBuffer replaces the payload with a flat buffer.
func (t *Tensor) SetBuffer(buf FlatBuffer) error {
	if err := buf.Validate(); err != nil {
		return err
	}
	if err := checkRank(t.axes, buf.Shape); err != nil {
		return err
	}
	t.shape = cloneShape(buf.Shape)
	t.dtype = buf.DType
	t.form = FormBuffer
	t.array = nil
	t.buf = FlatBuffer{DType: buf.DType, Shape: cloneShape(buf.Shape), Data: buf.Data}
	return nil
}

// Array returns the typed slice backing an array-form tensor. The slice is
// shared with the tensor.
func (t *Tensor) Array() (any, error) {
	switch t.form {
	case FormArray:
		return t.array, nil
	case FormBuffer:
		return nil, fmt.Errorf("%w: %q holds a buffer", ErrWrongForm, t.name)
	default:
		return nil, fmt.Errorf("%w: %q", ErrEmptyTensor, t.name)
	}
}

// Values returns a float64 copy of the elements in row-major order, from
// either form. The payload is left untouched.
func (t *Tensor) Values() ([]float64, error) {
	switch t.form {
	case FormArray:
		return valuesOf(t.array), nil
	case FormBuffer:
		array, err := decodeBytes(t.buf.Data, t.buf.DType, NumElements(t.buf.Shape))
		if err != nil {
			return nil, err
		}
		return valuesOf(array), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrEmptyTensor, t.name)
	}
}

// ArrayToBuffer converts the payload to buffer form, dropping the array.
func (t *Tensor) ArrayToBuffer() error {
	switch t.form {
	case FormBuffer:
		return nil
	case FormEmpty:
		return fmt.Errorf("%w: %q", ErrEmptyTensor, t.name)
	}
	data, err := encodeArray(t.array)
	if err != nil {
		return err
	}
	t.buf = FlatBuffer{DType: t.dtype, Shape: cloneShape(t.shape), Data: data}
	t.array = nil
	t.form = FormBuffer
	return nil
}

// BufferToArray converts the payload to array form, dropping the buffer.
func (t *Tensor) BufferToArray() error {
	switch t.form {
	case FormArray:
		return nil
	case FormEmpty:
		return fmt.Errorf("%w: %q", ErrEmptyTensor, t.name)
	}
	array, err := Decode(t.buf, t.buf.DType)
	if err != nil {
		return err
	}
	t.array = array
	t.buf = FlatBuffer{}
	t.form = FormArray
	return nil
}

// AsBuffer returns a copy of the payload in buffer form. The tensor keeps
// its current form.
func (t *Tensor) AsBuffer() (FlatBuffer, error) {
	switch t.form {
	case FormBuffer:
		return t.buf.Clone(), nil
	case FormArray:
		data, err := encodeArray(t.array)
		if err != nil {
			return FlatBuffer{}, err
		}
		return FlatBuffer{DType: t.dtype, Shape: cloneShape(t.shape), Data: data}, nil
	default:
		return FlatBuffer{}, fmt.Errorf("%w: %q", ErrEmptyTensor, t.name)
	}
}

// Release drops the payload. Name and axes are kept so the tensor can be
// refilled.
func (t *Tensor) Release() {
	t.shape = nil
	t.dtype = Unknown
	t.form = FormEmpty
	t.array = nil
	t.buf = FlatBuffer{}
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	c := &Tensor{name: t.name, axes: t.axes, shape: cloneShape(t.shape), dtype: t.dtype, form: t.form}
	switch t.form {
	case FormArray:
		c.array = cloneArray(t.array)
	case FormBuffer:
		c.buf = t.buf.Clone()
	}
	return c
}

func (t *Tensor) String() string {
	if t.form == FormEmpty {
		return fmt.Sprintf("%s(%s, empty)", t.name, t.axes)
	}
	return fmt.Sprintf("%s(%s, %v, %s, %s)", t.name, t.axes, t.shape, t.dtype, t.form)
}
