package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// parseWhen accepts RFC3339 or a bare HH:MM today; empty means now.
func parseWhen(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if hm, err := time.Parse("15:04", s); err == nil {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), hm.Hour(), hm.Minute(), 0, 0, now.Location()), nil
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q (want RFC3339 or HH:MM)", s)
}

func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a feeding or diaper change",
	}
	cmd.AddCommand(newAddFeedingCmd())
	cmd.AddCommand(newAddDiaperCmd())
	return cmd
}

func newAddFeedingCmd() *cobra.Command {
	var amount int
	var when, color string

	cmd := &cobra.Command{
		Use:   "feeding",
		Short: "Record a bottle feeding",
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseWhen(when)
			if err != nil {
				return err
			}

			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			// The add succeeds on the local write alone; confirmation runs in
			// the background and is flushed before exit when reachable.
			rec, err := a.orch.AddFeeding(amount, at, color)
			if err != nil {
				return err
			}
			a.flush(cmd.Context())

			fmt.Fprintf(cmd.OutOrStdout(), "recorded feeding %s (%d ml at %s)\n",
				rec.ID, rec.Amount, rec.TimeValue().Format(time.Kitchen))
			return nil
		},
	}

	cmd.Flags().IntVar(&amount, "amount", 0, "amount in milliliters (required)")
	cmd.Flags().StringVar(&when, "time", "", "feeding time, RFC3339 or HH:MM (default now)")
	cmd.Flags().StringVar(&color, "color", "", "display tag")
	cmd.MarkFlagRequired("amount")
	return cmd
}

func newAddDiaperCmd() *cobra.Command {
	var when, note, color string

	cmd := &cobra.Command{
		Use:   "diaper",
		Short: "Record a diaper change",
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseWhen(when)
			if err != nil {
				return err
			}

			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			rec, err := a.orch.AddDiaper(at, note, color)
			if err != nil {
				return err
			}
			a.flush(cmd.Context())

			fmt.Fprintf(cmd.OutOrStdout(), "recorded diaper change %s (at %s)\n",
				rec.ID, rec.TimeValue().Format(time.Kitchen))
			return nil
		},
	}

	cmd.Flags().StringVar(&when, "time", "", "change time, RFC3339 or HH:MM (default now)")
	cmd.Flags().StringVar(&note, "note", "", "free-text note")
	cmd.Flags().StringVar(&color, "color", "", "display tag")
	return cmd
}

// flush pushes staged mutations if the server is reachable right now. A
// short-lived CLI process has no background loop to lean on.
func (a *app) flush(ctx context.Context) {
	drainCtx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	defer cancel()
	a.orch.Drain(drainCtx)
}
