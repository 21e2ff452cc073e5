package main

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/seantiz/modelrunner/internal/config"
)

func newRunsCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run ledger",
	}
	cmd.AddCommand(newRunsListCmd(cfg), newRunsStatsCmd(cfg))
	return cmd
}

func newRunsListCmd(cfg *config.Config) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List recorded runs, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, total, err := a.store.ListRuns(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}

			var data [][]string
			for _, r := range runs {
				duration := "-"
				if r.DurationMS != nil {
					duration = strconv.Itoa(*r.DurationMS) + "ms"
				}
				data = append(data, []string{r.ID, r.Status, r.Framework, r.ModelFolder, duration, r.CreatedAt.Local().Format("2006-01-02 15:04:05")})
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"ID", "STATUS", "FRAMEWORK", "MODEL", "DURATION", "CREATED"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			table.AppendBulk(data)
			table.Render()

			if total > offset+len(runs) {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d runs shown\n", len(runs), total)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Runs to skip")
	return cmd
}

func newRunsStatsCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.store.GetRunStats(cmd.Context())
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			table.Append([]string{"total", strconv.Itoa(stats.Total)})
			for _, status := range slices.Sorted(maps.Keys(stats.CountByStatus)) {
				table.Append([]string{"status " + status, strconv.Itoa(stats.CountByStatus[status])})
			}
			for _, framework := range slices.Sorted(maps.Keys(stats.CountByFramework)) {
				table.Append([]string{"framework " + framework, strconv.Itoa(stats.CountByFramework[framework])})
			}
			table.Append([]string{"avg duration", fmt.Sprintf("%.1fms", stats.AvgDurationMS)})
			table.Render()
			return nil
		},
	}
}
