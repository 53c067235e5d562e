package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/tollgate/config"
	"github.com/artpar/tollgate/domain/plan"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tollgate.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
server:
  port: 9090
downstream:
  url: https://completions.example.com
database:
  driver: sqlite
  dsn: /tmp/test.db
pool:
  base: 10
  overflow: 20
plans:
  - tier: free
    calls_per_month: 5
    rate_limit_per_minute: 10
  - tier: pro
    calls_per_month: 1000
    rate_limit_per_minute: 60
    price_monthly: 1500
`

func TestLoad_ParsesAndDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.SlowThreshold != 5*time.Second {
		t.Errorf("slowThreshold = %v, want default 5s", cfg.Server.SlowThreshold)
	}
	if cfg.Pool.Base != 10 || cfg.Pool.Overflow != 20 {
		t.Errorf("pool = %d/%d", cfg.Pool.Base, cfg.Pool.Overflow)
	}
	if cfg.Pool.MaxLifetime != time.Hour {
		t.Errorf("maxLifetime = %v, want default 1h", cfg.Pool.MaxLifetime)
	}
	if cfg.Billing.InputPerK != 15 || cfg.Billing.OutputPerK != 60 {
		t.Errorf("billing = %d/%d, want defaults 15/60", cfg.Billing.InputPerK, cfg.Billing.OutputPerK)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TOLLGATE_SERVER_PORT", "7070")
	t.Setenv("TOLLGATE_LOG_LEVEL", "debug")

	cfg, err := config.Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want env override 7070", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_RejectsUnknownTier(t *testing.T) {
	bad := validYAML + `
  - tier: enterprise
    calls_per_month: 1
    rate_limit_per_minute: 1
`
	if _, err := config.Load(writeConfig(t, bad)); err == nil {
		t.Error("expected unknown tier to fail validation")
	}
}

func TestLoad_RejectsBadDriver(t *testing.T) {
	bad := `
database:
  driver: postgres
`
	if _, err := config.Load(writeConfig(t, bad)); err == nil {
		t.Error("expected unsupported driver to fail validation")
	}
}

func TestToPlans_ConvertsConfiguredPlans(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	plans := cfg.ToPlans()
	pro := plan.Find(plans, plan.TierPro)

	if pro.CallsPerMonth != 1000 {
		t.Errorf("callsPerMonth = %d, want 1000", pro.CallsPerMonth)
	}
	if pro.RateLimitPerMin != 60 {
		t.Errorf("rateLimitPerMin = %d, want 60", pro.RateLimitPerMin)
	}
}

func TestToPlans_FallsBackToDefaults(t *testing.T) {
	cfg := &config.Config{}

	plans := cfg.ToPlans()

	if len(plans) != 4 {
		t.Errorf("plans = %d, want 4 built-in tiers", len(plans))
	}
}

func TestHolder_ReloadKeepsOldConfigOnError(t *testing.T) {
	path := writeConfig(t, validYAML)

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("holder: %v", err)
	}
	defer h.Stop()

	if err := os.WriteFile(path, []byte("server:\n  port: -5\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := h.Reload(); err == nil {
		t.Fatal("expected reload of invalid config to fail")
	}

	if h.Get().Server.Port != 9090 {
		t.Errorf("port = %d, want old config retained", h.Get().Server.Port)
	}
}

func TestHolder_ReloadAppliesNewConfigAndNotifies(t *testing.T) {
	path := writeConfig(t, validYAML)

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("holder: %v", err)
	}
	defer h.Stop()

	notified := false
	h.OnChange(func(*config.Config) { notified = true })

	updated := validYAML + `
throttle:
  limit: 99
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := h.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if h.Get().Throttle.Limit != 99 {
		t.Errorf("throttle limit = %d, want 99", h.Get().Throttle.Limit)
	}
	if !notified {
		t.Error("expected OnChange listener to fire")
	}
}
