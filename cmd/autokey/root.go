package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version     = "dev"
	configPath  string
	controlAddr string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "autokey",
	Short: "autokey - timed key press automation",
	Long: `autokey repeatedly presses a configured key (alternating between two keys
when both are set) at a configured cadence, tracks total run time across
start/stop cycles and can stop itself after a set duration. Runs are gated
by a remote authorization check.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to the daemon when no subcommand is provided
		return runDaemon(cmd, args)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/autokey/config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&controlAddr, "addr", "", "Control API address (defaults to server.bind_address:server.control_port)")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
