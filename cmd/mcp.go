package cmd

import (
	"github.com/spf13/cobra"

	"github.com/osprey0/osprey/internal/mcp"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the assistant as an MCP server on stdio",
		Long: "Exposes query, search, and index tools over the Model Context Protocol\n" +
			"so agent hosts can use the document index. Runs until stdin closes or\n" +
			"the process is interrupted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			return mcp.Serve(ctx, mcp.Config{
				Name:     "osprey",
				Version:  AppVersion,
				Logger:   a.logger,
				Pipeline: pipe,
				Indexer:  deps.indexer,
			})
		},
	}
}
