package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/osprey0/osprey/internal/eval"
)

func newEvalCmd(a *app) *cobra.Command {
	var (
		file    string
		metrics []string
	)
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Score answer quality with an LLM judge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			samples, err := eval.LoadSamples(file)
			if err != nil {
				return err
			}

			client, err := a.ragClient(cmd.Context())
			if err != nil {
				return err
			}
			ev, err := eval.NewEvaluator(client, a.logger)
			if err != nil {
				return err
			}

			selected := make([]eval.Metric, 0, len(metrics))
			for _, m := range metrics {
				selected = append(selected, eval.Metric(m))
			}
			report, err := ev.Evaluate(cmd.Context(), samples, selected...)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(report.Scores))
			for _, m := range eval.AllMetrics() {
				score, ok := report.Scores[m]
				if !ok {
					continue
				}
				rows = append(rows, []string{string(m), fmt.Sprintf("%.2f", score)})
			}
			out := cmd.OutOrStdout()
			if len(rows) > 0 {
				fmt.Fprintln(out, renderTable([]string{"METRIC", "SCORE"}, rows))
			}
			fmt.Fprintf(out, "%d samples, %d judgments skipped.\n", report.Samples, report.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "samples.json", "evaluation samples file")
	cmd.Flags().StringSliceVar(&metrics, "metric", nil, "metrics to score (default: all)")
	return cmd
}
