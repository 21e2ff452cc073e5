package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const (
	defaultListenAddr      = ":8080"
	defaultDBPath          = "modelrunner.db"
	defaultEnginesDir      = "engines"
	defaultModelsDir       = "models"
	defaultDevice          = "any"
	defaultDownloadWorkers = 4

	envListenAddr      = "MODELRUNNER_LISTEN_ADDR"
	envDBPath          = "MODELRUNNER_DB_PATH"
	envLogLevel        = "MODELRUNNER_LOG_LEVEL"
	envEnginesDir      = "MODELRUNNER_ENGINES_DIR"
	envModelsDir       = "MODELRUNNER_MODELS_DIR"
	envStrictVersion   = "MODELRUNNER_STRICT_VERSION"
	envDevice          = "MODELRUNNER_DEVICE"
	envDownloadWorkers = "MODELRUNNER_DOWNLOAD_WORKERS"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// EnginesDir is the root holding one subdirectory per installed engine.
	EnginesDir string
	// ModelsDir is where downloaded models are stored.
	ModelsDir string
	// StrictVersion disables the nearest-lower engine version fallback.
	StrictVersion bool
	// Device is the default device preference: any, cpu or gpu.
	Device string
	// DownloadWorkers bounds concurrent file downloads per model.
	DownloadWorkers int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:      defaultListenAddr,
		DBPath:          defaultDBPath,
		LogLevel:        slog.LevelInfo,
		EnginesDir:      defaultEnginesDir,
		ModelsDir:       defaultModelsDir,
		Device:          defaultDevice,
		DownloadWorkers: defaultDownloadWorkers,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envEnginesDir); v != "" {
		cfg.EnginesDir = v
	}
	if v := os.Getenv(envModelsDir); v != "" {
		cfg.ModelsDir = v
	}
	if v := os.Getenv(envStrictVersion); v != "" {
		cfg.StrictVersion = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv(envDevice); v != "" {
		cfg.Device = strings.ToLower(v)
	}
	if v := os.Getenv(envDownloadWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DownloadWorkers = n
		}
	}

	return cfg
}

// ParseLogLevel maps a level name to a slog.Level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	return parseLogLevel(s)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
