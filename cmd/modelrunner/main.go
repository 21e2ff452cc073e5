// Command modelrunner resolves installed inference engines, runs models on
// them and serves the same operations over HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seantiz/modelrunner/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Load()

	root := &cobra.Command{
		Use:          "modelrunner",
		Short:        "Run deep learning models on installed engines",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.EnginesDir, "engines-dir", cfg.EnginesDir, "Directory holding installed engines")
	flags.StringVar(&cfg.ModelsDir, "models-dir", cfg.ModelsDir, "Directory holding model folders")
	flags.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Run ledger database path")
	logLevel := flags.String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentPreRun = func(*cobra.Command, []string) {
		if *logLevel != "" {
			cfg.LogLevel = config.ParseLogLevel(*logLevel)
		}
	}

	root.AddCommand(
		newServeCmd(&cfg),
		newEnginesCmd(&cfg),
		newRunCmd(&cfg),
		newTransformCmd(&cfg),
		newDownloadCmd(&cfg),
		newRunsCmd(&cfg),
	)
	return root
}
