package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mariek/littlefeed/internal/models"
)

func newListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show recent records from the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			feedings, err := a.store.RecentFeedings(limit)
			if err != nil {
				return err
			}
			diapers, err := a.store.RecentDiapers(limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tKIND\tDETAIL\tSYNC")
			for _, f := range feedings {
				fmt.Fprintf(w, "%s\tfeeding\t%d ml\t%s\n",
					f.TimeValue().Format(time.RFC822), f.Amount, statusMark(f.SyncStatus))
			}
			for _, d := range diapers {
				detail := d.Note
				if detail == "" {
					detail = "-"
				}
				fmt.Fprintf(w, "%s\tdiaper\t%s\t%s\n",
					d.TimeValue().Format(time.RFC822), detail, statusMark(d.SyncStatus))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "records per kind")
	return cmd
}

func statusMark(s models.SyncStatus) string {
	switch s {
	case models.SyncSynced:
		return "synced"
	case models.SyncError:
		return "error"
	default:
		return "pending"
	}
}
