package tensor

import "fmt"

// Payload is the JSON form of a tensor. Data holds the elements in
// row-major order. A payload without shape or data describes an empty
// placeholder.
type Payload struct {
	Name  string      `json:"name"`
	Axes  string      `json:"axes"`
	DType ElementType `json:"dtype,omitempty"`
	Shape []int       `json:"shape,omitempty"`
	Data  []float64   `json:"data,omitempty"`
}

// Tensor builds a tensor from the payload. The element type defaults to
// float32.
func (p Payload) Tensor() (*Tensor, error) {
	if p.Shape == nil && p.Data == nil {
		return NewEmpty(p.Name, p.Axes)
	}
	dt := p.DType
	if dt == Unknown {
		dt = Float32
	}
	return FromValues(p.Name, p.Axes, p.Shape, dt, p.Data)
}

// PayloadOf captures t, from either payload form, without modifying it.
func PayloadOf(t *Tensor) (Payload, error) {
	p := Payload{Name: t.Name(), Axes: t.Axes(), DType: t.DType(), Shape: t.Shape()}
	if t.IsEmpty() {
		return p, nil
	}
	values, err := t.Values()
	if err != nil {
		return Payload{}, err
	}
	p.Data = values
	return p, nil
}

// FromPayloads builds one tensor per payload.
func FromPayloads(payloads []Payload) ([]*Tensor, error) {
	out := make([]*Tensor, len(payloads))
	for i, p := range payloads {
		t, err := p.Tensor()
		if err != nil {
			return nil, fmt.Errorf("tensor %d: %w", i, err)
		}
		out[i] = t
	}
	return out, nil
}

// Payloads captures every tensor.
func Payloads(ts []*Tensor) ([]Payload, error) {
	out := make([]Payload, len(ts))
	for i, t := range ts {
		p, err := PayloadOf(t)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", t.Name(), err)
		}
		out[i] = p
	}
	return out, nil
}
