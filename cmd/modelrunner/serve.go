package main

import (
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/seantiz/modelrunner/internal/api"
	"github.com/seantiz/modelrunner/internal/config"
	"github.com/seantiz/modelrunner/internal/download"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "Listen address")
	cmd.Flags().StringVar(&cfg.Device, "device", cfg.Device, "Default device preference: any, cpu or gpu")
	cmd.Flags().BoolVar(&cfg.StrictVersion, "strict", cfg.StrictVersion, "Disable the lower engine version fallback by default")
	cmd.RunE = func(*cobra.Command, []string) error {
		a, err := openApp(cfg, os.Stdout)
		if err != nil {
			return err
		}
		defer a.Close()

		a.logger.Info("modelrunner: starting",
			"listen_addr", cfg.ListenAddr,
			"db_path", cfg.DBPath,
			"engines_dir", cfg.EnginesDir,
			"models_dir", cfg.ModelsDir,
		)

		dl := download.NewService(a.store, download.NewDownloader(http.DefaultClient, cfg.DownloadWorkers, a.logger), a.logger)
		defer dl.Shutdown()

		srv := api.NewServer(*cfg, a.store, a.builtins, a.loader, dl, a.logger)
		return srv.Run()
	}
	return cmd
}
