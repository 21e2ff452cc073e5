package engine

import "errors"

var (
	// ErrEngineNotFound is returned when no installed engine matches the
	// requested framework, platform and device.
	ErrEngineNotFound = errors.New("engine not found")

	// ErrEngineVersionMismatch is returned when engines for the framework
	// exist but none has an acceptable version.
	ErrEngineVersionMismatch = errors.New("engine version mismatch")

	// ErrAmbiguousEngine is returned when more than one directory remains
	// after every selection rule.
	ErrAmbiguousEngine = errors.New("ambiguous engine")

	// ErrEngineLoad is returned when an engine or model cannot be loaded.
	ErrEngineLoad = errors.New("engine load failed")

	// ErrEngineClosed is returned for any use of a released, failed or
	// closed context or session.
	ErrEngineClosed = errors.New("engine closed")

	// ErrInferenceExecution wraps failures reported by a backend during a run.
	ErrInferenceExecution = errors.New("inference execution failed")

	// ErrInvalidInput is returned when run arguments or a model folder fail
	// validation. Nothing crosses the boundary in that case.
	ErrInvalidInput = errors.New("invalid input")
)
