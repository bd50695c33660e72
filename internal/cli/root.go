// Package cli implements the littlefeed command-line interface.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mariek/littlefeed/internal/config"
	"github.com/mariek/littlefeed/internal/logging"
	"github.com/mariek/littlefeed/internal/orchestrator"
	"github.com/mariek/littlefeed/internal/realtime"
	"github.com/mariek/littlefeed/internal/store"
	"github.com/mariek/littlefeed/internal/syncq"
	"github.com/mariek/littlefeed/internal/transport"
)

var (
	flagDataDir   string
	flagServerURL string
	flagVerbose   bool
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "littlefeed",
		Short: "Offline-first baby tracker sync core",
		Long: `littlefeed keeps a local record of feedings and diaper changes and
synchronizes it with a cloud store across devices. Writes always land
locally first; the cloud catches up when connectivity allows.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := logging.LevelInfo
			if flagVerbose {
				level = logging.LevelDebug
			}
			logging.Init(cmd.ErrOrStderr(), level)
		},
	}

	root.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (default ~/.littlefeed)")
	root.PersistentFlags().StringVar(&flagServerURL, "server", "", "cloud server base URL")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newServeCmd())
	root.AddCommand(newAddCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newStatusCmd())
	return root
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}

// app bundles the wired client stack behind a command.
type app struct {
	cfg   *config.Config
	store *store.Store
	queue *syncq.Queue
	orch  *orchestrator.Orchestrator
}

// newApp loads config, opens the local store and wires the sync stack.
// Commands that only read locally still go through the same path; the store
// is the single entry point either way.
func newApp(withChannel bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagServerURL != "" {
		cfg.ServerURL = flagServerURL
	}

	st := store.New(cfg.DataDir)
	if err := st.Init(); err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	q := syncq.New(st)
	if err := q.Load(); err != nil {
		st.Close()
		return nil, fmt.Errorf("load sync queue: %w", err)
	}

	var channel orchestrator.Channel
	if withChannel {
		channel = realtime.New(realtime.Options{
			URL:      realtimeURL(cfg),
			Token:    cfg.Token,
			UserID:   cfg.UserID,
			DeviceID: st.DeviceID(),
		})
	}

	a := &app{
		cfg:   cfg,
		store: st,
		queue: q,
		orch: orchestrator.New(orchestrator.Options{
			Store:      st,
			Queue:      q,
			Transport:  transport.New(cfg.ServerURL, cfg.Token, cfg.RequestTimeout),
			Channel:    channel,
			PullWindow: cfg.PullWindow,
		}),
	}
	return a, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		logging.Error("closing local store", err)
	}
}

// realtimeURL derives the websocket endpoint from the server URL when no
// explicit one is configured.
func realtimeURL(cfg *config.Config) string {
	if cfg.RealtimeURL != "" {
		return cfg.RealtimeURL
	}
	ws := cfg.ServerURL
	if strings.HasPrefix(ws, "https") {
		ws = "wss" + strings.TrimPrefix(ws, "https")
	} else {
		ws = "ws" + strings.TrimPrefix(ws, "http")
	}
	return strings.TrimRight(ws, "/") + "/realtime"
}
