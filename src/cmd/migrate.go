package cmd

import (
	"fmt"

	"budgeteer-server/src/db"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if list {
				migrations, err := db.Migrations()
				if err != nil {
					return err
				}
				for _, m := range migrations {
					fmt.Fprintf(cmd.OutOrStdout(), "%03d  %s\n", m.Version, m.Name)
				}
				return nil
			}

			pool, err := db.Connect(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("DB connection failed: %w", err)
			}
			defer pool.Close()

			return db.Migrate(cmd.Context(), pool, logger)
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "list embedded migrations without applying them")
	return cmd
}
