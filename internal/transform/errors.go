package transform

import "errors"

var (
	// ErrInvalidParameter is returned for missing, mistyped or inconsistent
	// operation parameters, including mismatches against the target tensor.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrUnsupportedScope is returned when an operation is asked to compute
	// statistics over more named axes than it supports.
	ErrUnsupportedScope = errors.New("unsupported scope")

	// ErrUnknownOperation is returned by New for unregistered names.
	ErrUnknownOperation = errors.New("unknown operation")
)
