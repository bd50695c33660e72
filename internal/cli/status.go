package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mariek/littlefeed/internal/models"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show device, queue and sync state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			// One probe so "online" reflects right now, not a stale flag.
			reachable := "unreachable"
			probeCtx, cancel := context.WithTimeout(cmd.Context(), a.cfg.RequestTimeout)
			if err := a.orch.Probe(probeCtx); err == nil {
				reachable = "online"
			}
			cancel()

			st, err := a.orch.CurrentStatus()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "device:    %s\n", a.store.DeviceID())
			fmt.Fprintf(out, "server:    %s (%s)\n", a.cfg.ServerURL, reachable)
			fmt.Fprintf(out, "queue:     %d staged mutation(s)\n", st.QueueSize)
			if st.LastSyncTime != "" {
				fmt.Fprintf(out, "last sync: %s\n", st.LastSyncTime)
			} else {
				fmt.Fprintln(out, "last sync: never")
			}
			fmt.Fprintf(out, "feedings:  %s\n", countLine(st.Feedings))
			fmt.Fprintf(out, "diapers:   %s\n", countLine(st.Diapers))
			return nil
		},
	}
	return cmd
}

func countLine(counts map[models.SyncStatus]int) string {
	return fmt.Sprintf("%d synced, %d pending, %d error",
		counts[models.SyncSynced], counts[models.SyncPending], counts[models.SyncError])
}
