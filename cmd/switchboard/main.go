// Command switchboard runs the query-routing assistant: it discovers
// specialist agents on a remote chat service, delegates user questions to
// them, polls for answers, and merges the results back to chat channels,
// an HTTP API, or MCP tools.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/switchboard/internal/config"
)

var version = "dev"

func main() {
	var configPath string
	var verbose bool

	root := &cobra.Command{
		Use:           "switchboard",
		Short:         "Route user questions to specialist agents and merge their answers",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	loadConfig := func() (*config.Config, error) {
		return config.Load(configPath)
	}

	root.AddCommand(newServeCmd(loadConfig))
	root.AddCommand(newAgentsCmd(loadConfig))
	root.AddCommand(newMCPCmd(loadConfig))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
