package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/osprey0/osprey/db"
	"github.com/osprey0/osprey/internal/config"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending pgvector schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.VectorStore != config.VectorStorePgvector {
				return fmt.Errorf("migrations apply to the pgvector backend; vector_store is %q", a.cfg.VectorStore)
			}
			if err := db.Migrate(a.cfg.PostgresURL(), a.logger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
			return nil
		},
	}
}
