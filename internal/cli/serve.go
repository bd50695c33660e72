package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mariek/littlefeed/internal/config"
	"github.com/mariek/littlefeed/internal/devserver"
)

func newServeCmd() *cobra.Command {
	var addr string
	var issueToken string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the companion cloud server",
		Long: `Runs the in-memory cloud store devices converge against: the REST
record API, the /health probe, and the real-time relay. State does not
survive a restart; devices re-push from their durable queues.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.ListenAddr = addr
			}

			if issueToken != "" {
				if cfg.Server.JWTSecret == "" {
					return fmt.Errorf("--issue-token requires LITTLEFEED_JWT_SECRET")
				}
				token, err := devserver.NewToken(cfg.Server.JWTSecret, issueToken)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
			}

			srv := devserver.New(cfg.Server)
			defer srv.Close()
			return srv.ListenAndServe(cfg.Server.ListenAddr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default localhost:8093)")
	cmd.Flags().StringVar(&issueToken, "issue-token", "", "print a bearer token for the given user id before serving")
	return cmd
}
