package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func submitCmd() *cobra.Command {
	var (
		prompt          string
		beamWidth       int
		keepTop         int
		maxIterations   int
		alpha           float64
		temperature     float64
		ensembleSize    int
		descriptiveness int
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new beam-search job",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(serverAddr, authToken)
			body := map[string]any{
				"prompt":          prompt,
				"beamWidth":       beamWidth,
				"keepTop":         keepTop,
				"maxIterations":   maxIterations,
				"alpha":           alpha,
				"temperature":     temperature,
				"ensembleSize":    ensembleSize,
				"descriptiveness": descriptiveness,
			}
			resp, err := c.do("POST", "/jobs", body)
			if err != nil {
				return err
			}
			var out map[string]any
			if err := json.Unmarshal(resp, &out); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Println(out["jobId"])
			return nil
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "starting prompt (required)")
	cmd.Flags().IntVar(&beamWidth, "beam-width", 8, "beam width (N)")
	cmd.Flags().IntVar(&keepTop, "keep-top", 4, "candidates kept per iteration (M)")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 3, "number of refinement iterations")
	cmd.Flags().Float64Var(&alpha, "alpha", 0.5, "alignment/aesthetic score weighting, in [0,1]")
	cmd.Flags().Float64Var(&temperature, "temperature", 1.0, "language sampling temperature")
	cmd.Flags().IntVar(&ensembleSize, "ensemble-size", 3, "ensemble comparisons per pairwise judgment")
	cmd.Flags().IntVar(&descriptiveness, "descriptiveness", 0, "1, 2, 3, or 0 for random")
	cmd.MarkFlagRequired("prompt")

	return cmd
}
