package cmd

import (
	"encoding/json"
	"errors"

	"budgeteer-server/src/scheduler"

	"github.com/spf13/cobra"
)

func syncCmd() *cobra.Command {
	var userID, itemID int64

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run transaction sync once, for one item, one user, or everyone",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID > 0 && itemID > 0 {
				return errors.New("--user and --item are mutually exclusive")
			}
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			var out any
			switch {
			case itemID > 0:
				out, err = a.syncer.SyncItem(ctx, itemID)
			case userID > 0:
				out, err = a.syncer.SyncUser(ctx, userID)
			default:
				out, err = scheduler.New(a.store, a.syncer, 0, logger).RunOnce(ctx)
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "sync every active item of this user")
	cmd.Flags().Int64Var(&itemID, "item", 0, "sync a single linked item")
	return cmd
}
