// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/tollgate/adapters/clock"
	tollhttp "github.com/artpar/tollgate/adapters/http"
	"github.com/artpar/tollgate/adapters/idgen"
	"github.com/artpar/tollgate/adapters/memory"
	"github.com/artpar/tollgate/adapters/metrics"
	"github.com/artpar/tollgate/adapters/pool"
	"github.com/artpar/tollgate/adapters/remote"
	"github.com/artpar/tollgate/adapters/sqlite"
	"github.com/artpar/tollgate/app"
	"github.com/artpar/tollgate/config"
	"github.com/artpar/tollgate/domain/ledger"
	"github.com/artpar/tollgate/domain/plan"
	"github.com/artpar/tollgate/domain/ratelimit"
	"github.com/artpar/tollgate/ports"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Holder     *config.Holder
	DB         *sqlite.DB
	HTTPServer *http.Server
	Metrics    *metrics.Collector
	Pipeline   *app.PipelineService

	recorder   ports.LedgerRecorder
	rateStore  *memory.RateLimitStore
	quotaMem   *memory.QuotaStore
	gaugesStop chan struct{}
}

// New creates and initializes the application from a config holder.
func New(holder *config.Holder, logger zerolog.Logger) (*App, error) {
	cfg := holder.Get()

	a := &App{
		Logger: logger,
		Holder: holder,
	}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		logger.Info().Msg("prometheus metrics enabled")
	}

	realClock := clock.Real{}
	ids := idgen.UUID{}

	// Rate limit state is always in memory: losing counters on restart only
	// under-enforces for one window.
	a.rateStore = memory.NewRateLimitStore(memory.RateLimitConfig{})

	var (
		callers ports.CallerStore
		quotas  ports.QuotaStore
		ledgers ports.LedgerStore
	)

	switch cfg.Database.Driver {
	case "sqlite":
		poolCfg := pool.Config{
			Base:           cfg.Pool.Base,
			Overflow:       cfg.Pool.Overflow,
			MaxLifetime:    cfg.Pool.MaxLifetime,
			AcquireTimeout: cfg.Pool.AcquireTimeout,
		}
		db, err := sqlite.Open(cfg.Database.DSN, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close(context.Background())
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		a.DB = db
		callers = sqlite.NewCallerStore(db)
		quotas = sqlite.NewQuotaStore(db)
		ledgers = sqlite.NewLedgerStore(db)
		logger.Info().Str("dsn", cfg.Database.DSN).Msg("sqlite storage ready")

	case "memory":
		callers = memory.NewCallerStore()
		a.quotaMem = memory.NewQuotaStore(memory.QuotaStoreConfig{})
		quotas = a.quotaMem
		ledgers = memory.NewLedgerStore()
		logger.Warn().Msg("memory storage selected; usage does not survive restart")

	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}

	if a.DB != nil && a.Metrics != nil {
		a.startPoolGauges()
	}

	a.recorder = app.NewBufferedRecorder(ledgers, app.RecorderConfig{
		BatchSize:     cfg.Ledger.BatchSize,
		FlushInterval: cfg.Ledger.FlushInterval,
		WriteTimeout:  cfg.Ledger.WriteTimeout,
		MaxBuffered:   cfg.Ledger.MaxBuffered,
	}, a.Metrics, logger)

	downstream := remote.NewCompletionClient(remote.CompletionConfig{
		BaseURL: cfg.Downstream.URL,
		APIKey:  cfg.Downstream.APIKey,
		Timeout: cfg.Downstream.Timeout,
	})

	auth := app.NewAuthenticator(callers, realClock)

	a.Pipeline = app.NewPipelineService(
		auth, a.rateStore, quotas, a.recorder, downstream,
		realClock, ids, a.Metrics, logger,
		pipelineConfig(cfg),
	)

	stats := app.NewStatsService(auth, quotas, ledgers, realClock, func() []plan.Plan {
		return holder.Get().ToPlans()
	})

	// Plans, billing rates and throttle limits are hot-reloadable.
	holder.OnChange(func(newCfg *config.Config) {
		a.Pipeline.SetConfig(pipelineConfig(newCfg))
	})

	gateway := tollhttp.NewGatewayHandler(a.Pipeline, stats, logger)
	health := tollhttp.NewHealthHandler(a.readiness)

	var throttle *tollhttp.Throttle
	if cfg.Throttle.Enabled {
		throttle = tollhttp.NewThrottle(a.rateStore, realClock, func() ratelimit.Config {
			c := holder.Get().Throttle
			return ratelimit.Config{
				Limit:  c.Limit,
				Window: time.Duration(c.WindowSecs) * time.Second,
			}
		}, a.Metrics, logger)
	}

	router := tollhttp.NewRouter(gateway, health, logger, tollhttp.RouterConfig{
		Throttle:       throttle,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
	})

	a.HTTPServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return a, nil
}

// pipelineConfig derives the pipeline's hot-reloadable snapshot.
func pipelineConfig(cfg *config.Config) app.PipelineConfig {
	return app.PipelineConfig{
		Plans: cfg.ToPlans(),
		Rates: ledger.Rates{
			InputPerK:  cfg.Billing.InputPerK,
			OutputPerK: cfg.Billing.OutputPerK,
		},
		SlowThreshold:   cfg.Server.SlowThreshold,
		DispatchTimeout: cfg.Downstream.Timeout,
	}
}

// readiness reports whether durable storage is reachable.
func (a *App) readiness() error {
	if a.DB == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return a.DB.WithConn(ctx, func(conn *sql.Conn) error {
		return conn.PingContext(ctx)
	})
}

// startPoolGauges publishes pool occupancy to the metrics collector.
func (a *App) startPoolGauges() {
	a.gaugesStop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stats := a.DB.PoolStats()
				a.Metrics.PoolInUse.Set(float64(stats.InUse))
				a.Metrics.PoolIdle.Set(float64(stats.Idle))
			case <-a.gaugesStop:
				return
			}
		}
	}()
}

// Run starts the HTTP server and blocks until interrupted.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application: stop accepting requests, flush
// the ledger, then drain the pool. Order matters; billable entries must be
// durable before storage goes away.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("http shutdown failed")
	}

	if a.gaugesStop != nil {
		close(a.gaugesStop)
	}

	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("ledger recorder close failed")
		}
	}

	a.rateStore.Close()
	if a.quotaMem != nil {
		a.quotaMem.Close()
	}

	if a.DB != nil {
		if err := a.DB.Close(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("database close failed")
			return err
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

// SetupLogger builds the root logger from config.
func SetupLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Logging.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
