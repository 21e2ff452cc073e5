// Command modelrunner-refadapter serves the pure-Go reference backend over
// the child-process protocol. An engine directory installs it by naming it
// as the command of an "adapter: process" manifest.
//
// Build with: go build -o engines/reference-1.0.0-1.0.0-linux-x86_64-cpu/bin/adapter ./cmd/modelrunner-refadapter
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/seantiz/modelrunner/internal/agent"
	"github.com/seantiz/modelrunner/internal/backend/process"
	"github.com/seantiz/modelrunner/internal/backend/reference"
	"github.com/seantiz/modelrunner/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := agent.New(os.Stdin, os.Stdout)
	logger := a.Logger(config.Load().LogLevel).With("engine_dir", os.Getenv(process.EnvEngineDir))

	if err := a.Serve(ctx, reference.New(logger)); err != nil {
		fmt.Fprintf(os.Stderr, "modelrunner-refadapter: %v\n", err)
		os.Exit(1)
	}
}
