package main

import (
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/switchboard/internal/config"
	"github.com/nextlevelbuilder/switchboard/internal/mcptools"
)

func newMCPCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the delegation tools over MCP stdio",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, closeStore, err := newService(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			return mcptools.New(svc.engineFor(session), version).ServeStdio()
		},
	}
	cmd.Flags().StringVar(&session, "session", "mcp", "session id scoping conversation state")
	return cmd
}
