package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/tollgate/adapters/sqlite"
	"github.com/artpar/tollgate/domain/quota"
)

var usageCmd = &cobra.Command{
	Use:   "usage <caller-id>",
	Short: "Show a caller's usage for the current billing period",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsage,
}

var usageRecentCmd = &cobra.Command{
	Use:   "recent <caller-id>",
	Short: "Show a caller's most recent ledger entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsageRecent,
}

var usageCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete quota counters for long-finished billing periods",
	Long: `Delete quota counter rows for billing periods older than the
retention window. The ledger is untouched; it remains the billing record.
The current period is never eligible.`,
	RunE: runUsageCleanup,
}

var (
	usageLimit      int
	usageKeepMonths int
)

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.AddCommand(usageRecentCmd)
	usageCmd.AddCommand(usageCleanupCmd)

	usageRecentCmd.Flags().IntVar(&usageLimit, "limit", 20, "number of entries")
	usageCleanupCmd.Flags().IntVar(&usageKeepMonths, "keep-months", 3, "months of quota counters to retain")
}

func runUsage(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close(context.Background())

	ctx := context.Background()
	callerID := args[0]
	start, end := quota.PeriodBounds(time.Now())

	state, err := sqlite.NewQuotaStore(db).Get(ctx, callerID, start)
	if err != nil {
		return fmt.Errorf("failed to read quota: %w", err)
	}

	summary, err := sqlite.NewLedgerStore(db).Summarize(ctx, callerID, start, end)
	if err != nil {
		return fmt.Errorf("failed to summarize ledger: %w", err)
	}

	fmt.Printf("Period:    %s\n", quota.PeriodKey(start))
	fmt.Printf("Consumed:  %d", state.Consumed)
	if state.Ceiling >= 0 {
		fmt.Printf(" / %d", state.Ceiling)
	}
	fmt.Println()
	fmt.Printf("Calls:     %d (%d failed)\n", summary.Calls, summary.Failures)
	fmt.Printf("Volume:    %d in / %d out\n", summary.InputUnits, summary.OutputUnits)
	fmt.Printf("Cost:      %d cents\n", summary.CostTotal)

	return nil
}

func runUsageCleanup(cmd *cobra.Command, args []string) error {
	if usageKeepMonths < 1 {
		return fmt.Errorf("keep-months must be at least 1")
	}

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close(context.Background())

	cutoff := quota.PeriodStart(time.Now()).AddDate(0, -usageKeepMonths, 0)
	removed, err := sqlite.NewQuotaStore(db).CleanupOldPeriods(context.Background(), cutoff)
	if err != nil {
		return fmt.Errorf("failed to clean up quota periods: %w", err)
	}

	fmt.Printf("Removed %d quota period rows older than %s\n", removed, quota.PeriodKey(cutoff))
	return nil
}

func runUsageRecent(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close(context.Background())

	entries, err := sqlite.NewLedgerStore(db).Recent(context.Background(), args[0], usageLimit)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No ledger entries found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tREQUEST\tIN\tOUT\tCOST\tOUTCOME\tLATENCY")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%dms\n",
			e.Timestamp.Format(time.RFC3339), e.RequestID,
			e.Volume.InputUnits, e.Volume.OutputUnits,
			e.Cost, e.Outcome, e.LatencyMs)
	}
	return w.Flush()
}
