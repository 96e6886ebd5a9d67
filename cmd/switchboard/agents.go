package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/switchboard/internal/config"
)

func newAgentsCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var orgID string

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the specialist agents reachable with the configured token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, closeStore, err := newService(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			agents, err := svc.engineFor("cli").DiscoverAgents(cmd.Context(), orgID)
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no agents found")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tORG\tVISIBLE\tDESCRIPTION")
			for _, a := range agents {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
					a.ID, a.Name, a.OrganizationID, a.Visible, a.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "restrict to one organization")
	return cmd
}
