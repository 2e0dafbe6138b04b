// Package main provides the entry point for the dirtman CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/allenheltondev/dirt-man/cmd/dirtman/commands"
	"github.com/allenheltondev/dirt-man/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	var configPath string

	rootCmd := &cobra.Command{
		Use:   "dirtman",
		Short: "Plant telemetry backend - ingestion workers, rollovers, and insights",
		Long: `Dirtman processes soil sensor telemetry for houseplants.

Commands:
  worker    Run the change feed workers until interrupted
  rollover  Combine closed windows into daily or weekly aggregates
  insights  Schedule and process plant insight requests
  devices   List known devices with health and freshness`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: .dirtman.yaml)")

	rootCmd.AddCommand(commands.NewWorkerCommand(&configPath))
	rootCmd.AddCommand(commands.NewRolloverCommand(&configPath))
	rootCmd.AddCommand(commands.NewInsightsCommand(&configPath))
	rootCmd.AddCommand(commands.NewDevicesCommand(&configPath))
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "dirtman %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
