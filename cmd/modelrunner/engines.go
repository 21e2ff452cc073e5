package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/seantiz/modelrunner/internal/config"
	"github.com/seantiz/modelrunner/internal/engine"
)

// engineFlags are the resolution options shared by engines resolve and run.
type engineFlags struct {
	device   string
	strict   bool
	platform string
}

func addEngineFlags(cmd *cobra.Command, cfg *config.Config) *engineFlags {
	ef := &engineFlags{}
	cmd.Flags().StringVar(&ef.device, "device", cfg.Device, "Device preference: any, cpu or gpu")
	cmd.Flags().BoolVar(&ef.strict, "strict", cfg.StrictVersion, "Fail instead of falling back to a lower engine version")
	cmd.Flags().StringVar(&ef.platform, "platform", "", "Target platform as os-arch (default: this host)")
	return ef
}

// descriptor builds a resolution request from the command flags.
func (ef *engineFlags) descriptor(cfg *config.Config, framework, version string) (*engine.Descriptor, error) {
	d := &engine.Descriptor{
		Framework:  framework,
		Version:    version,
		EnginesDir: cfg.EnginesDir,
		Device:     ef.device,
		Strict:     ef.strict,
	}
	if ef.platform != "" {
		p, err := engine.ParsePlatform(ef.platform)
		if err != nil {
			return nil, err
		}
		d.Platform = &p
	}
	return d, nil
}

func newEnginesCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engines",
		Short: "Inspect installed engines",
	}
	cmd.AddCommand(newEnginesListCmd(cfg), newEnginesResolveCmd(cfg))
	return cmd
}

func newEnginesListCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List installed engines",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dirs, err := engine.ListEngines(cfg.EnginesDir)
			if err != nil {
				return err
			}

			var data [][]string
			for _, d := range dirs {
				var devices []string
				if d.CPU {
					devices = append(devices, "cpu")
				}
				if d.GPU {
					devices = append(devices, "gpu")
				}
				data = append(data, []string{d.Name, d.Framework, d.Version, d.APIVersion, d.Platform().String(), strings.Join(devices, ",")})
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"NAME", "FRAMEWORK", "VERSION", "API", "PLATFORM", "DEVICES"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			table.AppendBulk(data)
			table.Render()
			return nil
		},
	}
}

func newEnginesResolveCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve FRAMEWORK VERSION",
		Short: "Show which installed engine a framework version resolves to",
		Args:  cobra.ExactArgs(2),
	}
	ef := addEngineFlags(cmd, cfg)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		logger := config.NewLogger(os.Stderr, cfg.LogLevel)
		d, err := ef.descriptor(cfg, args[0], args[1])
		if err != nil {
			return err
		}
		resolved, err := d.Resolve(logger)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, resolved.Dir.Path)
		if !resolved.Exact {
			fmt.Fprintf(out, "substituted version %s for requested %s\n", resolved.Dir.Version, resolved.Requested)
		}
		return nil
	}
	return cmd
}
