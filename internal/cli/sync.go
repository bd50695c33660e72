package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push staged mutations and pull the latest cloud state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*a.cfg.RequestTimeout)
			defer cancel()

			res := a.orch.Drain(ctx)
			if res.Ran {
				fmt.Fprintf(cmd.OutOrStdout(), "pushed %d of %d staged mutations (%d still queued)\n",
					res.Succeeded, res.Processed, res.Remaining)
			}

			rep := a.orch.SyncFromCloud(ctx)
			if !rep.Ran {
				return fmt.Errorf("a sync is already in progress")
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"feedings: %d pulled, %d new, %d updated, %d removed\n",
				rep.Feedings.Pulled, rep.Feedings.Created, rep.Feedings.Updated, rep.Feedings.Deleted)
			fmt.Fprintf(cmd.OutOrStdout(),
				"diapers:  %d pulled, %d new, %d updated, %d removed\n",
				rep.Diapers.Pulled, rep.Diapers.Created, rep.Diapers.Updated, rep.Diapers.Deleted)
			if rep.Feedings.Skipped || rep.Diapers.Skipped {
				fmt.Fprintln(cmd.OutOrStdout(), "warning: one or more record kinds could not be pulled")
			}
			return nil
		},
	}
	return cmd
}
