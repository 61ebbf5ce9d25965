package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newAskCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			deps, err := a.ragDeps(ctx)
			if err != nil {
				return err
			}
			defer deps.Close()

			pipe, err := a.pipeline(deps)
			if err != nil {
				return err
			}

			answer, err := pipe.Answer(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, renderMarkdown(answer.Text))
			if len(answer.Passages) > 0 {
				fmt.Fprintln(out, "Sources:")
				for i, p := range answer.Passages {
					source := p.Document.Metadata["source"]
					if source == "" {
						source = p.Document.ID
					}
					fmt.Fprintf(out, "  [%d] %s (similarity %.2f)\n", i+1, source, p.Similarity)
				}
			}
			return nil
		},
	}
}
