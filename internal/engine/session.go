package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/seantiz/modelrunner/internal/backend"
	"github.com/seantiz/modelrunner/internal/model"
	"github.com/seantiz/modelrunner/internal/tensor"
)

// RDFFile is the model description document every model folder contains.
const RDFFile = "rdf.yaml"

// TensorSpec declares one tensor of a model signature. A shape entry of -1
// leaves that dimension free.
type TensorSpec struct {
	Name  string `json:"name" yaml:"name"`
	Axes  string `json:"axes" yaml:"axes"`
	Shape []int  `json:"shape,omitempty" yaml:"shape,omitempty"`
}

// ModelSpec locates a model and optionally declares its signature.
type ModelSpec struct {
	Folder string `json:"folder"`
	// Weights is the weights file, absolute or relative to Folder.
	Weights   string            `json:"weights"`
	Framework string            `json:"framework,omitempty"`
	Inputs    []TensorSpec      `json:"inputs,omitempty"`
	Outputs   []TensorSpec      `json:"outputs,omitempty"`
	Options   map[string]string `json:"options,omitempty"`
}

// WeightsPath returns the weights file as an absolute path.
func (m ModelSpec) WeightsPath() string {
	w := m.Weights
	if !filepath.IsAbs(w) {
		w = filepath.Join(m.Folder, w)
	}
	abs, err := filepath.Abs(w)
	if err != nil {
		return filepath.Clean(w)
	}
	return abs
}

// Validate checks that the folder exists and holds the description
// document, that the weights file is inside it, and that the declared
// signature is well formed.
func (m ModelSpec) Validate() error {
	if m.Folder == "" {
		return fmt.Errorf("%w: no model folder", ErrInvalidInput)
	}
	info, err := os.Stat(m.Folder)
	if err != nil {
		return fmt.Errorf("%w: model folder: %w", ErrInvalidInput, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: model folder %s is not a directory", ErrInvalidInput, m.Folder)
	}
	if _, err := os.Stat(filepath.Join(m.Folder, RDFFile)); err != nil {
		return fmt.Errorf("%w: model folder %s has no %s", ErrInvalidInput, m.Folder, RDFFile)
	}

	if m.Weights == "" {
		return fmt.Errorf("%w: no weights file", ErrInvalidInput)
	}
	folder, err := filepath.Abs(m.Folder)
	if err != nil {
		return fmt.Errorf("%w: model folder: %w", ErrInvalidInput, err)
	}
	rel, err := filepath.Rel(folder, m.WeightsPath())
	if err != nil || !filepath.IsLocal(rel) {
		return fmt.Errorf("%w: weights %s are outside the model folder", ErrInvalidInput, m.Weights)
	}
	if _, err := os.Stat(m.WeightsPath()); err != nil {
		return fmt.Errorf("%w: weights: %w", ErrInvalidInput, err)
	}

	for _, list := range [][]TensorSpec{m.Inputs, m.Outputs} {
		for _, ts := range list {
			if ts.Name == "" {
				return fmt.Errorf("%w: signature tensor without a name", ErrInvalidInput)
			}
			if _, err := tensor.NormalizeAxes(ts.Axes); err != nil {
				return fmt.Errorf("%w: signature %q: %w", ErrInvalidInput, ts.Name, err)
			}
			if len(ts.Shape) > 0 && len(ts.Shape) != len(ts.Axes) {
				return fmt.Errorf("%w: signature %q has %d axes but %d sizes", ErrInvalidInput, ts.Name, len(ts.Axes), len(ts.Shape))
			}
		}
	}
	return nil
}

func (m ModelSpec) backendSpec() backend.ModelSpec {
	folder, err := filepath.Abs(m.Folder)
	if err != nil {
		folder = m.Folder
	}
	return backend.ModelSpec{
		Folder:    folder,
		Weights:   m.WeightsPath(),
		Framework: m.Framework,
		Options:   m.Options,
	}
}

// RunOption configures a single Run call.
type RunOption func(*runOptions)

type runOptions struct {
	releaseInputs bool
}

// WithReleaseInputs empties each input tensor once it has been converted
// for the backend, instead of leaving its payload in place.
func WithReleaseInputs() RunOption {
	return func(o *runOptions) { o.releaseInputs = true }
}

// Session is a model loaded into an engine context.
type Session struct {
	id     string
	c      *Context
	spec   ModelSpec
	handle backend.ModelHandle

	mu     sync.Mutex
	closed bool
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Context returns the engine context the model is loaded in.
func (s *Session) Context() *Context { return s.c }

// Spec returns the model the session was created for.
func (s *Session) Spec() ModelSpec { return s.spec }

func (s *Session) usable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: session %s closed", ErrEngineClosed, s.id)
	}
	return nil
}

// Run executes the model on inputs and writes each result into the output
// tensor with the same name. Output tensors may be empty placeholders; their
// payload is replaced by an array. Arguments are validated before anything
// is sent to the backend.
func (s *Session) Run(ctx context.Context, inputs, outputs []*tensor.Tensor, opts ...RunOption) error {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := s.usable(); err != nil {
		return err
	}
	if err := s.c.usable(); err != nil {
		return err
	}
	if err := s.validateRun(inputs, outputs); err != nil {
		inferenceTotal.WithLabelValues(statusRejected).Inc()
		return err
	}

	run := &model.Run{
		ID:          model.NewID(),
		SessionID:   s.id,
		Status:      model.StatusPending,
		Framework:   s.c.info.Framework,
		EngineDir:   s.c.dir.Path,
		ModelFolder: s.spec.Folder,
		Inputs:      tensor.Names(inputs),
		Outputs:     tensor.Names(outputs),
		CreatedAt:   time.Now().UTC(),
	}
	s.recordCreate(ctx, run)

	bufs := make([]backend.TensorBuffer, 0, len(inputs))
	for _, t := range inputs {
		var bopts []tensor.BufferOption
		if o.releaseInputs {
			bopts = append(bopts, tensor.WithRelease())
		}
		buf, err := tensor.ToBuffer(t, bopts...)
		if err != nil {
			err = fmt.Errorf("%w: input %q: %w", ErrInvalidInput, t.Name(), err)
			s.recordFinish(ctx, run, time.Now(), err)
			return err
		}
		bufs = append(bufs, backend.TensorBuffer{Name: t.Name(), Axes: t.Axes(), Buffer: buf})
	}

	s.recordRunning(ctx, run)
	start := time.Now()
	var results []backend.TensorBuffer
	err := s.c.call(ctx, func(ctx context.Context) error {
		var err error
		results, err = s.c.adapter.Run(ctx, s.handle, bufs)
		return err
	})
	inferenceDuration.WithLabelValues(s.c.info.Framework).Observe(time.Since(start).Seconds())

	if err == nil {
		err = writeOutputs(results, outputs)
	} else if !errors.Is(err, ErrEngineClosed) {
		err = fmt.Errorf("%w: %w", ErrInferenceExecution, err)
	}
	s.recordFinish(ctx, run, start, err)
	if err != nil {
		inferenceTotal.WithLabelValues(statusFailed).Inc()
		return err
	}
	inferenceTotal.WithLabelValues(statusCompleted).Inc()
	return nil
}

func (s *Session) validateRun(inputs, outputs []*tensor.Tensor) error {
	if len(inputs) == 0 {
		return fmt.Errorf("%w: no inputs", ErrInvalidInput)
	}
	if err := tensor.UniqueNames(inputs); err != nil {
		return fmt.Errorf("%w: inputs: %w", ErrInvalidInput, err)
	}
	if err := tensor.UniqueNames(outputs); err != nil {
		return fmt.Errorf("%w: outputs: %w", ErrInvalidInput, err)
	}
	for _, t := range inputs {
		if t.IsEmpty() {
			return fmt.Errorf("%w: input %q has no data", ErrInvalidInput, t.Name())
		}
	}

	if len(s.spec.Inputs) > 0 {
		for _, t := range inputs {
			if err := checkSignature(s.spec.Inputs, t, true); err != nil {
				return err
			}
		}
		for _, want := range s.spec.Inputs {
			if tensor.Lookup(inputs, want.Name) == nil {
				return fmt.Errorf("%w: missing input %q", ErrInvalidInput, want.Name)
			}
		}
	}
	if len(s.spec.Outputs) > 0 {
		for _, t := range outputs {
			if err := checkSignature(s.spec.Outputs, t, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkSignature(specs []TensorSpec, t *tensor.Tensor, withShape bool) error {
	for _, want := range specs {
		if want.Name != t.Name() {
			continue
		}
		axes, _ := tensor.NormalizeAxes(want.Axes)
		if axes != t.Axes() {
			return fmt.Errorf("%w: %q has axes %q, model expects %q", ErrInvalidInput, t.Name(), t.Axes(), axes)
		}
		if !withShape || len(want.Shape) == 0 {
			return nil
		}
		shape := t.Shape()
		for i, n := range want.Shape {
			if n >= 0 && shape[i] != n {
				return fmt.Errorf("%w: %q axis %q has size %d, model expects %d", ErrInvalidInput, t.Name(), axes[i], shape[i], n)
			}
		}
		return nil
	}
	return fmt.Errorf("%w: model has no tensor %q", ErrInvalidInput, t.Name())
}

func writeOutputs(results []backend.TensorBuffer, outputs []*tensor.Tensor) error {
	for _, t := range outputs {
		var found *backend.TensorBuffer
		for i := range results {
			if results[i].Name == t.Name() {
				found = &results[i]
				break
			}
		}
		if found == nil {
			return fmt.Errorf("%w: backend returned no output %q", ErrInferenceExecution, t.Name())
		}
		if found.Axes != "" && found.Axes != t.Axes() {
			return fmt.Errorf("%w: output %q has axes %q, want %q", ErrInferenceExecution, t.Name(), found.Axes, t.Axes())
		}
		if err := t.SetBuffer(found.Buffer); err != nil {
			return fmt.Errorf("%w: output %q: %w", ErrInferenceExecution, t.Name(), err)
		}
		if err := t.BufferToArray(); err != nil {
			return fmt.Errorf("%w: output %q: %w", ErrInferenceExecution, t.Name(), err)
		}
	}
	return nil
}

// Close unloads the model. Closing twice is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.c.call(ctx, func(ctx context.Context) error {
		return s.c.adapter.Unload(ctx, s.handle)
	})
	if err != nil && !errors.Is(err, ErrEngineClosed) {
		return fmt.Errorf("unload session %s: %w", s.id, err)
	}
	return nil
}

func (s *Session) recordCreate(ctx context.Context, r *model.Run) {
	st := s.c.loader.store
	if st == nil {
		return
	}
	if err := st.CreateRun(context.WithoutCancel(ctx), r); err != nil {
		s.c.logger.Error("failed to record run", "run_id", r.ID, "session_id", s.id, "error", err)
	}
}

func (s *Session) recordRunning(ctx context.Context, r *model.Run) {
	st := s.c.loader.store
	if st == nil {
		return
	}
	if err := st.UpdateRunStatus(context.WithoutCancel(ctx), r.ID, model.StatusRunning); err != nil {
		s.c.logger.Error("failed to record run start", "run_id", r.ID, "error", err)
		return
	}
	r.Status = model.StatusRunning
}

func (s *Session) recordFinish(ctx context.Context, r *model.Run, start time.Time, runErr error) {
	st := s.c.loader.store
	if st == nil {
		return
	}
	now := time.Now().UTC()
	dur := int(now.Sub(start).Milliseconds())
	started := start.UTC()

	r.Status = model.StatusCompleted
	if runErr != nil {
		r.Status = model.StatusFailed
		r.Error = runErr.Error()
	}
	r.DurationMS = &dur
	r.StartedAt = &started
	r.FinishedAt = &now
	if err := st.UpdateRun(context.WithoutCancel(ctx), r); err != nil {
		s.c.logger.Error("failed to record run result", "run_id", r.ID, "error", err)
	}
}
