package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Build metadata, stamped by the release build via -ldflags.
var (
	AppVersion = "dev"
	Commit     = "none"
	BuildDate  = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "osprey %s (commit %s, built %s, %s)\n",
				AppVersion, Commit, BuildDate, runtime.Version())
			return nil
		},
	}
}
