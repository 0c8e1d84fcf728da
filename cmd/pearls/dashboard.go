package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pearls-dev/pearls/internal/dashboard"
)

func newDashboardCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dashboard",
		GroupID: "serve",
		Short:   "Serve a live task board over HTTP and WebSocket",
		Long: `Start a local dashboard that pushes the task list and counts to
connected browsers whenever the database changes.

Endpoints:
  /           board
  /ws         WebSocket feed (snapshot and stats messages)
  /api/tasks  latest snapshot as JSON
  /health     health check

Press Ctrl+C to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			port := a.settings.DashboardPort
			if cmd.Flags().Changed("port") {
				port, _ = cmd.Flags().GetInt("port")
			}

			ctx := cmd.Context()
			db, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			return dashboard.Run(ctx, db, dashboard.RunConfig{
				DBPath: db.Path(),
				Port:   port,
				Logger: a.logging.Logger("dashboard"),
				Ready: func(addr string) {
					fmt.Fprintf(out, "Dashboard for %s\n", db.Path())
					fmt.Fprintf(out, "  board:     http://%s/\n", addr)
					fmt.Fprintf(out, "  websocket: ws://%s/ws\n", addr)
				},
			})
		},
	}
	cmd.Flags().Int("port", 0, "port to listen on (default dashboard.port, 8080)")
	return cmd
}
