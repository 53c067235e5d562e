package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/tollgate/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	fmt.Println("Configuration valid")
	fmt.Printf("  Downstream: %s\n", cfg.Downstream.URL)
	fmt.Printf("  Database:   %s (%s)\n", cfg.Database.DSN, cfg.Database.Driver)
	fmt.Printf("  Pool:       %d base + %d overflow\n", cfg.Pool.Base, cfg.Pool.Overflow)
	fmt.Printf("  Plans:      %d\n", len(cfg.ToPlans()))
	fmt.Println()
	fmt.Println("Hot-reloadable fields:")
	for _, f := range config.ReloadableFields() {
		fmt.Printf("  %s\n", f)
	}
	return nil
}
