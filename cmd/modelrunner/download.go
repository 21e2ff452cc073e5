package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seantiz/modelrunner/internal/config"
	"github.com/seantiz/modelrunner/internal/download"
	"github.com/seantiz/modelrunner/internal/model"
)

func newDownloadCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download DEST URL...",
		Short: "Download model files into a folder, showing progress",
		Long: `Download model files into a folder, showing progress.

DEST is a folder name under the models directory, or an absolute path.
Every URL (http, https or file) is saved under its last path segment.`,
		Args: cobra.MinimumNArgs(2),
	}
	cmd.Flags().IntVar(&cfg.DownloadWorkers, "workers", cfg.DownloadWorkers, "Files fetched at once")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		dest := args[0]
		if !filepath.IsAbs(dest) {
			dest = filepath.Join(cfg.ModelsDir, dest)
		}

		a, err := openApp(cfg, os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		svc := download.NewService(a.store, download.NewDownloader(http.DefaultClient, cfg.DownloadWorkers, a.logger, download.WithFileURLs()), a.logger)
		d, err := svc.Start(cmd.Context(), dest, args[1:])
		if err != nil {
			return err
		}

		stop := context.AfterFunc(cmd.Context(), func() { svc.Cancel(d.ID) })
		defer stop()

		ch, unsub, err := svc.Subscribe(cmd.Context(), d.ID)
		if err != nil {
			return err
		}
		defer unsub()
		var p progressPrinter
		for snap := range ch {
			p.print(cmd.ErrOrStderr(), download.Render(snap))
		}
		svc.Wait()

		final, err := a.store.GetDownload(context.WithoutCancel(cmd.Context()), d.ID)
		if err != nil {
			return err
		}
		if final.Status != model.StatusCompleted {
			return fmt.Errorf("download %s: %s", final.Status, final.Error)
		}
		fmt.Fprintln(cmd.OutOrStdout(), dest)
		return nil
	}
	return cmd
}

// progressPrinter redraws a block of progress bars in place.
type progressPrinter struct {
	lines int
}

func (p *progressPrinter) print(w io.Writer, block string) {
	if p.lines > 0 {
		fmt.Fprintf(w, "\033[%dA", p.lines)
	}
	block = strings.TrimRight(block, "\n")
	for line := range strings.SplitSeq(block, "\n") {
		fmt.Fprintf(w, "\r\033[K%s\n", line)
	}
	p.lines = strings.Count(block, "\n") + 1
}
