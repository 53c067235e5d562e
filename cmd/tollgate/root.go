package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tollgate",
	Short: "Metered admission gateway with licensing, rate limiting, and usage accounting",
	Long: `Tollgate is a metered API gateway for a paid completion service.

It authenticates license tokens, applies per-caller rate limits and
monthly quotas, dispatches admitted requests to the downstream
completion service, and keeps a durable usage ledger for billing.

Quick start:
  tollgate serve             # Start the gateway
  tollgate callers create    # Issue a license token

Management:
  tollgate callers   # Manage callers and their license tokens
  tollgate usage     # Inspect recorded usage
  tollgate validate  # Validate configuration`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "tollgate.yaml", "config file path")
}
