package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if err := svc.Migrate(ctx); err != nil {
				return err
			}

			v, err := svc.SchemaVersion(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "Schema at version %d (%s)\n", v, svc.Config.StorageDriver)
			return nil
		},
	}
}
