package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/seantiz/modelrunner/internal/backend"
	"github.com/seantiz/modelrunner/internal/backend/process"
	"github.com/seantiz/modelrunner/internal/backend/reference"
	"github.com/seantiz/modelrunner/internal/config"
	"github.com/seantiz/modelrunner/internal/engine"
	"github.com/seantiz/modelrunner/internal/store"
)

// app holds the dependencies shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.SQLiteStore
	builtins *backend.Registry
	loader   *engine.Loader
}

// openApp opens the run ledger and creates the engine loader. Logs go to w.
func openApp(cfg *config.Config, w io.Writer) (*app, error) {
	logger := config.NewLogger(w, cfg.LogLevel)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	builtins := backend.NewRegistry()
	builtins.Register(reference.Name, reference.Factory(logger))

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    db,
		builtins: builtins,
		loader:   engine.NewLoader(builtins, process.LoadConfig(), db, logger),
	}, nil
}

// Close unloads every engine, then closes the ledger.
func (a *app) Close() error {
	return errors.Join(a.loader.Close(), a.store.Close())
}
