package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newIndexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "index <path|url>",
		Short: "Index a document file, a directory tree, or a web page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			target := strings.TrimSpace(args[0])
			if target == "" {
				return errors.New("index target is required")
			}

			deps, err := a.ragDeps(ctx)
			if err != nil {
				return err
			}
			defer deps.Close()
			out := cmd.OutOrStdout()

			if strings.Contains(target, "://") {
				chunks, err := deps.indexer.IndexURL(ctx, target)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Indexed %d chunks from %s\n", chunks, target)
				return nil
			}

			info, err := os.Stat(target)
			if err != nil {
				return err
			}
			if info.IsDir() {
				res, err := deps.indexer.IndexDir(ctx, target)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Indexed %d files (%d chunks) in %s, skipped %d, failed %d\n",
					res.FilesIndexed, res.Chunks, res.Duration.Round(time.Millisecond),
					res.FilesSkipped, res.FilesFailed)
				return nil
			}

			chunks, err := deps.indexer.IndexFile(ctx, target)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Indexed %d chunks from %s\n", chunks, target)
			return nil
		},
	}
}
