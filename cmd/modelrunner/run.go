package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seantiz/modelrunner/internal/config"
	"github.com/seantiz/modelrunner/internal/engine"
	"github.com/seantiz/modelrunner/internal/tensor"
)

type runFlags struct {
	framework     string
	version       string
	weights       string
	inputs        string
	outputs       []string
	releaseInputs bool
}

func newRunCmd(cfg *config.Config) *cobra.Command {
	var rf runFlags
	cmd := &cobra.Command{
		Use:   "run MODEL_FOLDER",
		Short: "Run a model once and print its outputs as JSON",
		Long: `Run a model once and print its outputs as JSON.

The inputs file holds a JSON array of tensors, each with name, axes, shape,
data and an optional dtype (float32 by default). Outputs are requested as
name:axes pairs.`,
		Args: cobra.ExactArgs(1),
	}
	ef := addEngineFlags(cmd, cfg)
	cmd.Flags().StringVar(&rf.framework, "framework", "", "Weights format or framework, e.g. torchscript")
	cmd.Flags().StringVar(&rf.version, "version", "", "Framework version the model needs")
	cmd.Flags().StringVar(&rf.weights, "weights", "", "Weights file inside the model folder")
	cmd.Flags().StringVarP(&rf.inputs, "inputs", "i", "", "JSON file with the input tensors (- for stdin)")
	cmd.Flags().StringArrayVarP(&rf.outputs, "output", "o", nil, "Output tensor as name:axes (repeatable)")
	cmd.Flags().BoolVar(&rf.releaseInputs, "release-inputs", false, "Free input payloads once handed to the engine")
	for _, name := range []string{"framework", "version", "weights", "inputs", "output"} {
		cmd.MarkFlagRequired(name)
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		inputs, err := readTensors(rf.inputs)
		if err != nil {
			return err
		}
		outputs, err := parseOutputs(rf.outputs)
		if err != nil {
			return err
		}

		a, err := openApp(cfg, os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := ef.descriptor(cfg, rf.framework, rf.version)
		if err != nil {
			return err
		}
		resolved, err := d.Resolve(a.logger)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		c, err := a.loader.Acquire(ctx, resolved)
		if err != nil {
			return err
		}
		defer a.loader.Release(c)

		sess, err := c.NewSession(ctx, engine.ModelSpec{
			Folder:    args[0],
			Weights:   rf.weights,
			Framework: rf.framework,
		})
		if err != nil {
			return err
		}
		defer sess.Close(context.WithoutCancel(ctx))

		var opts []engine.RunOption
		if rf.releaseInputs {
			opts = append(opts, engine.WithReleaseInputs())
		}
		if err := sess.Run(ctx, inputs, outputs, opts...); err != nil {
			return err
		}

		payloads, err := tensor.Payloads(outputs)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(payloads)
	}
	return cmd
}

// readTensors decodes a JSON array of tensors from path, or stdin for "-".
func readTensors(path string) ([]*tensor.Tensor, error) {
	var payloads []tensor.Payload
	if err := readJSON(path, &payloads); err != nil {
		return nil, err
	}
	return tensor.FromPayloads(payloads)
}

func readJSON(path string, v any) error {
	f := os.Stdin
	if path != "-" {
		var err error
		if f, err = os.Open(path); err != nil {
			return err
		}
		defer f.Close()
	}
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// parseOutputs turns name:axes pairs into empty output tensors.
func parseOutputs(specs []string) ([]*tensor.Tensor, error) {
	out := make([]*tensor.Tensor, 0, len(specs))
	for _, s := range specs {
		name, axes, ok := strings.Cut(s, ":")
		if !ok {
			return nil, fmt.Errorf("output %q: want name:axes", s)
		}
		t, err := tensor.NewEmpty(name, axes)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", s, err)
		}
		out = append(out, t)
	}
	return out, nil
}
