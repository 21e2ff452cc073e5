package tensor

import "errors"

var (
	// ErrInvalidTensor is returned when name, axes, shape or payload disagree.
	ErrInvalidTensor = errors.New("invalid tensor")

	// ErrEmptyTensor is returned when a materialised payload is required.
	ErrEmptyTensor = errors.New("tensor is empty")

	// ErrWrongForm is returned when an operation needs the other payload form.
	ErrWrongForm = errors.New("tensor payload in wrong form")

	// ErrUnsupportedConversion is returned on element type or buffer layout
	// mismatches. Coercion is never implicit.
	ErrUnsupportedConversion = errors.New("unsupported conversion")
)
