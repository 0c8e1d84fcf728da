package main

import (
	"github.com/spf13/cobra"

	"github.com/pearls-dev/pearls/internal/tools"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "mcp",
		GroupID: "serve",
		Short:   "Serve the task tools over MCP on stdio",
		Long: `Run an MCP server on stdin/stdout exposing tasks.list,
tasks.claim_next, tasks.add, tasks.update_metadata and
tasks.update_dependency. Logs never go to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			logger := a.logging.Logger("mcp")
			s := tools.NewServer(tools.NewConfig(a.service(db), logger), Version)
			logger.Printf("Serving %s on stdio", db.Path())
			return tools.ServeStdio(s, logger)
		},
	}
}
