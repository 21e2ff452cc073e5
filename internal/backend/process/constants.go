package process

import "time"

// AdapterKind is the manifest value selecting this adapter.
const AdapterKind = "process"

// EnvEngineDir is set in the child's environment to the absolute engine
// directory it was started from.
const EnvEngineDir = "MODELRUNNER_ENGINE_DIR"

// Default timeouts.
const (
	// DefaultStartTimeout bounds the wait for the child's hello frame.
	DefaultStartTimeout = 30 * time.Second

	// DefaultShutdownTimeout bounds the wait for the child to exit after a
	// close request before it is killed.
	DefaultShutdownTimeout = 5 * time.Second
)
