package backend

import (
	"context"
	"errors"

	"github.com/seantiz/modelrunner/internal/tensor"
)

var (
	// ErrAdapterCorrupted is returned (possibly wrapped) when an adapter can
	// no longer be trusted, for example because its process died mid-call.
	// Every later call on the owning context fails.
	ErrAdapterCorrupted = errors.New("adapter corrupted")

	// ErrUnknownAdapter is returned when no factory is registered under a name.
	ErrUnknownAdapter = errors.New("unknown adapter")

	// ErrUnknownModel is returned for handles the adapter did not issue or has
	// already unloaded.
	ErrUnknownModel = errors.New("unknown model handle")
)

// Adapter is implemented by every backend. One instance serves one engine
// context; instances never share mutable state.
type Adapter interface {
	// Info describes the adapter. It must not block.
	Info() Info

	// Load loads a model and returns an opaque handle to it.
	Load(ctx context.Context, spec ModelSpec) (ModelHandle, error)

	// Run executes one inference call. Inputs and outputs are flat buffers
	// only. The context carries cancellation; adapters that cannot honour it
	// are treated as corrupted when it fires.
	Run(ctx context.Context, h ModelHandle, inputs []TensorBuffer) ([]TensorBuffer, error)

	// Unload releases the resources held for one model.
	Unload(ctx context.Context, h ModelHandle) error

	// Close releases every backend-native resource. The adapter is unusable
	// afterwards.
	Close(ctx context.Context) error
}

// ModelHandle identifies a loaded model within one adapter.
type ModelHandle string

// ModelSpec tells an adapter where a model lives.
type ModelSpec struct {
	// Folder is the model directory containing the description document.
	Folder string `json:"folder"`
	// Weights is the path of the weights file to load, inside Folder.
	Weights string `json:"weights"`
	// Framework is the weights format, e.g. "pytorch".
	Framework string `json:"framework,omitempty"`
	// Options carries adapter-specific settings such as a device name.
	Options map[string]string `json:"options,omitempty"`
}

// TensorBuffer is a named flat buffer, the only tensor form that crosses the
// boundary.
type TensorBuffer struct {
	Name   string            `json:"name"`
	Axes   string            `json:"axes"`
	Buffer tensor.FlatBuffer `json:"buffer"`
}

// Info describes an adapter.
type Info struct {
	Name      string `json:"name"`
	Framework string `json:"framework"`
	Version   string `json:"version"`
	// Concurrent reports whether Run may be called from several goroutines
	// at once. When false, callers serialise calls.
	Concurrent bool     `json:"concurrent"`
	Devices    []string `json:"devices,omitempty"`
}
