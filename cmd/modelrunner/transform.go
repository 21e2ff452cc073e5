package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seantiz/modelrunner/internal/config"
	"github.com/seantiz/modelrunner/internal/tensor"
	"github.com/seantiz/modelrunner/internal/transform"
)

func newTransformCmd(cfg *config.Config) *cobra.Command {
	var pipelinePath, tensorPath string
	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Apply a preprocessing pipeline to a tensor",
		Long: `Apply a preprocessing pipeline to a tensor and print the result as JSON.

The pipeline file is a YAML list of steps such as:

  - name: zero_mean_unit_variance
    kwargs: {mode: per_sample, axes: yx}
  - name: clip
    kwargs: {min: -3, max: 3}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(pipelinePath)
			if err != nil {
				return err
			}
			p, err := transform.ParsePipeline(data)
			if err != nil {
				return err
			}

			var payload tensor.Payload
			if err := readJSON(tensorPath, &payload); err != nil {
				return err
			}
			t, err := payload.Tensor()
			if err != nil {
				return err
			}

			logger := config.NewLogger(os.Stderr, cfg.LogLevel)
			logger.Debug("applying pipeline", "steps", p.Names(), "tensor", t.String())
			if err := p.Apply(t); err != nil {
				return fmt.Errorf("apply pipeline: %w", err)
			}

			out, err := tensor.PayloadOf(t)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVarP(&pipelinePath, "pipeline", "p", "", "YAML file listing the steps")
	cmd.Flags().StringVarP(&tensorPath, "tensor", "t", "-", "JSON file with the tensor (- for stdin)")
	cmd.MarkFlagRequired("pipeline")
	return cmd
}
