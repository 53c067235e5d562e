package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/artpar/tollgate/adapters/pool"
	"github.com/artpar/tollgate/adapters/sqlite"
	"github.com/artpar/tollgate/config"
	"github.com/artpar/tollgate/domain/license"
	"github.com/artpar/tollgate/domain/plan"
)

const checkMark = "✓"

var callersCmd = &cobra.Command{
	Use:   "callers",
	Short: "Manage callers and their license tokens",
	Long: `Manage Tollgate callers.

Each caller holds one license token. Tokens are shown exactly once at
creation; only a hash is stored. Revocation is a soft operation and
takes effect on the next request.

Examples:
  tollgate callers list
  tollgate callers create --email=dev@example.com --tier=pro
  tollgate callers rotate caller_abc123
  tollgate callers plan caller_abc123 team
  tollgate callers revoke caller_abc123`,
}

var callersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List callers",
	RunE:  runCallersList,
}

var callersCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a caller and issue a license token",
	RunE:  runCallersCreate,
}

var callersRotateCmd = &cobra.Command{
	Use:   "rotate <caller-id>",
	Short: "Issue a new token for a caller, invalidating the old one",
	Args:  cobra.ExactArgs(1),
	RunE:  runCallersRotate,
}

var callersRevokeCmd = &cobra.Command{
	Use:   "revoke <caller-id>",
	Short: "Revoke a caller's license",
	Args:  cobra.ExactArgs(1),
	RunE:  runCallersRevoke,
}

var callersPlanCmd = &cobra.Command{
	Use:   "plan <caller-id> <tier>",
	Short: "Move a caller to a different plan tier",
	Args:  cobra.ExactArgs(2),
	RunE:  runCallersPlan,
}

var (
	callerEmail   string
	callerTier    string
	callerExpires time.Duration
)

func init() {
	rootCmd.AddCommand(callersCmd)

	callersCmd.AddCommand(callersListCmd)
	callersCmd.AddCommand(callersCreateCmd)
	callersCmd.AddCommand(callersRotateCmd)
	callersCmd.AddCommand(callersRevokeCmd)
	callersCmd.AddCommand(callersPlanCmd)

	callersCreateCmd.Flags().StringVar(&callerEmail, "email", "", "caller email (required)")
	callersCreateCmd.Flags().StringVar(&callerTier, "tier", "free", "plan tier: free, indie, pro, team")
	callersCreateCmd.Flags().DurationVar(&callerExpires, "expires", 0, "token lifetime (0 = never expires)")
	callersCreateCmd.MarkFlagRequired("email")
}

func runCallersList(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close(context.Background())

	store := sqlite.NewCallerStore(db)
	callers, err := store.List(context.Background(), 100, 0)
	if err != nil {
		return fmt.Errorf("failed to list callers: %w", err)
	}

	if len(callers) == 0 {
		fmt.Println("No callers found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEMAIL\tTIER\tPREFIX\tSTATUS\tCREATED")
	for _, c := range callers {
		status := "active"
		if c.Revoked() {
			status = "revoked"
		} else if c.ExpiresAt != nil && !time.Now().Before(*c.ExpiresAt) {
			status = "expired"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.Email, c.Tier, c.Prefix, status, c.CreatedAt.Format("2006-01-02"))
	}
	return w.Flush()
}

func runCallersCreate(cmd *cobra.Command, args []string) error {
	tier, ok := plan.ParseTier(callerTier)
	if !ok {
		return fmt.Errorf("unknown tier: %s", callerTier)
	}

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close(context.Background())

	store := sqlite.NewCallerStore(db)

	rawToken, hash, prefix := license.Generate()
	now := time.Now().UTC()

	caller := license.Caller{
		ID:        "caller_" + uuid.New().String()[:8],
		Email:     callerEmail,
		Tier:      tier,
		TokenHash: hash,
		Prefix:    prefix,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if callerExpires > 0 {
		exp := now.Add(callerExpires)
		caller.ExpiresAt = &exp
	}

	if err := store.Create(context.Background(), caller); err != nil {
		return fmt.Errorf("failed to create caller: %w", err)
	}

	fmt.Printf("%s Created caller %s (%s, %s tier)\n", checkMark, caller.ID, caller.Email, tier)
	fmt.Println()
	fmt.Println("License token (save this, shown once):")
	fmt.Printf("  %s\n", rawToken)
	if caller.ExpiresAt != nil {
		fmt.Println()
		fmt.Printf("Expires: %s\n", caller.ExpiresAt.Format(time.RFC3339))
	}

	return nil
}

func runCallersRotate(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close(context.Background())

	store := sqlite.NewCallerStore(db)
	caller, err := store.Get(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("caller not found: %s", args[0])
	}

	rawToken, hash, prefix := license.Generate()
	caller.TokenHash = hash
	caller.Prefix = prefix
	caller.UpdatedAt = time.Now().UTC()

	if err := store.Update(context.Background(), caller); err != nil {
		return fmt.Errorf("failed to rotate token: %w", err)
	}

	fmt.Printf("%s Rotated token for caller %s\n", checkMark, caller.ID)
	fmt.Println()
	fmt.Println("New license token (save this, shown once):")
	fmt.Printf("  %s\n", rawToken)
	fmt.Println()
	fmt.Println("The previous token no longer authenticates.")

	return nil
}

func runCallersRevoke(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close(context.Background())

	store := sqlite.NewCallerStore(db)
	if err := store.Revoke(context.Background(), args[0], time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to revoke caller: %w", err)
	}

	fmt.Printf("%s Revoked caller %s\n", checkMark, args[0])
	fmt.Println("Requests with the existing token now fail with caller_revoked.")
	return nil
}

func runCallersPlan(cmd *cobra.Command, args []string) error {
	tier, ok := plan.ParseTier(args[1])
	if !ok {
		return fmt.Errorf("unknown tier: %s", args[1])
	}

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close(context.Background())

	store := sqlite.NewCallerStore(db)
	caller, err := store.Get(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("caller not found: %s", args[0])
	}

	previous := caller.Tier
	caller.Tier = tier
	caller.UpdatedAt = time.Now().UTC()

	if err := store.Update(context.Background(), caller); err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}

	fmt.Printf("%s Moved caller %s from %s to %s\n", checkMark, caller.ID, previous, tier)
	fmt.Println("New rate limit and quota ceiling apply from the next request.")
	return nil
}

// openDatabase opens the configured database for CLI commands.
func openDatabase() (*sqlite.DB, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.Driver != "sqlite" {
		return nil, fmt.Errorf("caller management requires the sqlite driver")
	}

	db, err := sqlite.Open(cfg.Database.DSN, pool.Config{
		Base:           2,
		Overflow:       2,
		MaxLifetime:    cfg.Pool.MaxLifetime,
		AcquireTimeout: cfg.Pool.AcquireTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close(context.Background())
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}
