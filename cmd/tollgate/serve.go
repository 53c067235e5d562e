package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/artpar/tollgate/bootstrap"
	"github.com/artpar/tollgate/config"
)

var hotReload bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Long: `Start the Tollgate gateway server.

The server will:
  - Load configuration from tollgate.yaml (or --config)
  - Or load configuration from TOLLGATE_* environment variables
  - Connect to the database and run migrations
  - Admit metered requests: authenticate, rate limit, reserve quota,
    dispatch downstream, and record usage

Environment variables (for Docker deployments):
  TOLLGATE_DOWNSTREAM_URL  - Completion service URL (required)
  TOLLGATE_DATABASE_DSN    - Database path (default: tollgate.db)
  TOLLGATE_SERVER_PORT     - Server port (default: 8080)
  TOLLGATE_LOG_LEVEL       - Log level: debug, info, warn, error

Examples:
  tollgate serve
  tollgate serve --config /etc/tollgate/config.yaml
  tollgate serve --hot-reload=false

  # Docker (env vars only):
  TOLLGATE_DOWNSTREAM_URL=https://api.example.com tollgate serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	if !hasConfigFile && os.Getenv("TOLLGATE_DOWNSTREAM_URL") == "" {
		fmt.Println("No configuration found.")
		fmt.Println()
		fmt.Printf("Option 1: Create %s\n", cfgFile)
		fmt.Println("Option 2: Set TOLLGATE_DOWNSTREAM_URL environment variable")
		fmt.Println()
		fmt.Println("Example (env vars):")
		fmt.Println("  TOLLGATE_DOWNSTREAM_URL=https://api.example.com tollgate serve")
		return nil
	}

	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	logger := bootstrap.SetupLogger(cfg)

	var holder *config.Holder
	if hasConfigFile {
		holder, err = config.NewHolder(cfgFile, logger)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
	} else {
		fmt.Println("Running with environment variables (no config file)")
		holder = config.NewStaticHolder(cfg, logger)
	}
	defer holder.Stop()

	if hasConfigFile && hotReload {
		if err := holder.WatchFile(); err != nil {
			logger.Warn().Err(err).Msg("config file watch unavailable")
		}
		holder.WatchSignals()
	}

	app, err := bootstrap.New(holder, logger)
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	return app.Run()
}
