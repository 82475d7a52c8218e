// Package cmd contains CLI commands.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mkonradi/callmeter/cli/internal/config"
)

var (
	cfg     *config.Config
	format  string
	verbose bool
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "callmeter",
	Short: "Callmeter CLI - function call telemetry analysis",
	Long: `Callmeter captures per-call timing and resource telemetry and turns the
resulting log files into per-run reports.

This CLI works on the log directory a metered application writes to: it
reconstructs the most recent run, aggregates per-function statistics, and
renders report artifacts.

Examples:
  # Analyze the latest run in ./logs and write reports under ./figs
  callmeter analyze

  # Analyze an explicit time window
  callmeter analyze --start-time "2025-03-01 10:00:00" --end-time "2025-03-01 10:30:00"

  # List raw timing results from the persisted store
  callmeter results --limit 20

  # List captured errors
  callmeter errors
`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.DefaultConfig()
		if format != "" {
			cfg.Format = format
		}
		cfg.Verbose = verbose
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&format, "output", "o", "", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	// Add subcommands
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(errorsCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd prints version info.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("callmeter version 0.1.0")
	},
}
