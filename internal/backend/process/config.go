package process

import (
	"os"
	"time"
)

// Environment variable names for child-process configuration.
const (
	envStartTimeout    = "MODELRUNNER_PROCESS_START_TIMEOUT"
	envShutdownTimeout = "MODELRUNNER_PROCESS_SHUTDOWN_TIMEOUT"
)

// Config holds configuration for child-process adapters.
type Config struct {
	// StartTimeout bounds process start up to the hello frame.
	StartTimeout time.Duration

	// ShutdownTimeout bounds a graceful close before the child is killed.
	ShutdownTimeout time.Duration
}

// LoadConfig reads configuration from environment variables, applying
// defaults for values that are unset or unparsable.
func LoadConfig() Config {
	cfg := Config{
		StartTimeout:    DefaultStartTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
	}

	if v := os.Getenv(envStartTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.StartTimeout = d
		}
	}
	if v := os.Getenv(envShutdownTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ShutdownTimeout = d
		}
	}

	return cfg
}
