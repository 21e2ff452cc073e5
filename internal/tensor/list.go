package tensor

import "fmt"

// AsBuffers converts every non-empty tensor in ts to buffer form.
func AsBuffers(ts []*Tensor) error {
	for _, t := range ts {
		if t.IsEmpty() {
			continue
		}
		if err := t.ArrayToBuffer(); err != nil {
			return fmt.Errorf("tensor %q: %w", t.Name(), err)
		}
	}
	return nil
}

// AsArrays converts every non-empty tensor in ts to array form.
func AsArrays(ts []*Tensor) error {
	for _, t := range ts {
		if t.IsEmpty() {
			continue
		}
		if err := t.BufferToArray(); err != nil {
			return fmt.Errorf("tensor %q: %w", t.Name(), err)
		}
	}
	return nil
}

// CopyBuffers writes the payload of each source tensor into the destination
// tensor with the same name, in buffer form. Both lists must have the same
// length; empty sources are skipped. With release set, each copied source is
// emptied.
func CopyBuffers(src, dst []*Tensor, release bool) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%w: %d source tensors but %d destinations", ErrInvalidTensor, len(src), len(dst))
	}
	for _, s := range src {
		if s.IsEmpty() {
			continue
		}
		d := Lookup(dst, s.Name())
		if d == nil {
			return fmt.Errorf("%w: no destination named %q", ErrInvalidTensor, s.Name())
		}
		if d.Axes() != s.Axes() {
			return fmt.Errorf("%w: %q axes %q do not match %q", ErrInvalidTensor, s.Name(), s.Axes(), d.Axes())
		}
		var opts []BufferOption
		if release {
			opts = append(opts, WithRelease())
		}
		buf, err := ToBuffer(s, opts...)
		if err != nil {
			return fmt.Errorf("tensor %q: %w", s.Name(), err)
		}
		if err := d.SetBuffer(buf); err != nil {
			return fmt.Errorf("tensor %q: %w", s.Name(), err)
		}
	}
	return nil
}

// Lookup returns the tensor named name, or nil.
func Lookup(ts []*Tensor, name string) *Tensor {
	for _, t := range ts {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// Names returns the tensor names in order.
func Names(ts []*Tensor) []string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = t.Name()
	}
	return names
}

// UniqueNames returns an error naming the first duplicate in ts.
func UniqueNames(ts []*Tensor) error {
	seen := make(map[string]bool, len(ts))
	for _, t := range ts {
		if seen[t.Name()] {
			return fmt.Errorf("%w: duplicate tensor name %q", ErrInvalidTensor, t.Name())
		}
		seen[t.Name()] = true
	}
	return nil
}
