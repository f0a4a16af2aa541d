package main

import (
	"fmt"
	"os"

	"github.com/goodtune/kburn/internal/admin/api"
	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kburn",
	Short: "kburn - quota and time-window governed bandwidth consumer",
	Long: `kburn keeps a pool of transfer workers pulling data from a configured
set of targets, pausing them when the daily byte quota is spent or the
current time falls outside the allowed windows.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to server command when no subcommand is provided
		return runServer(cmd, args)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/kburn/config.yaml", "Path to configuration file")
	api.Version = version
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
