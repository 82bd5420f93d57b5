package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/animus-labs/swapval/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swapval.yaml")
	body := `
workers: 2
store: postgres
shutdown_timeout: 30s
log_level: debug
pricing:
  interpolation: linear_zero
  stub_tolerance_days: 3
  bumps_bp: [-5, 5]
holidays:
  USD:
    - "2025-01-09"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	if cfg.Workers != 2 || cfg.Store != StorePostgres || cfg.ShutdownTimeout != 30*time.Second {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Level() != slog.LevelDebug {
		t.Fatalf("Level() = %v", cfg.Level())
	}
	if cfg.CurveOptions().Method != domain.LinearZero {
		t.Fatalf("CurveOptions().Method = %q", cfg.CurveOptions().Method)
	}
	if got := cfg.SensitivityOptions().BumpsBP; len(got) != 2 || got[0] != -5 {
		t.Fatalf("BumpsBP = %v", got)
	}
	// Untouched keys keep their defaults.
	if cfg.Pricing.SwapFixedMonths != 12 || cfg.Artifacts != ArtifactsMemory {
		t.Fatalf("defaults lost: %+v", cfg.Pricing)
	}

	reg, err := cfg.Calendars()
	if err != nil {
		t.Fatalf("Calendars() err=%v", err)
	}
	usd, err := reg.Lookup("USD")
	if err != nil {
		t.Fatalf("Lookup() err=%v", err)
	}
	if usd.IsBusinessDay(domain.Day(2025, time.January, 9)) {
		t.Fatalf("expected configured holiday on 2025-01-09")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("SWAPVAL_CONFIG", "")
	t.Setenv("SWAPVAL_WORKERS", "8")
	t.Setenv("SWAPVAL_BUMPS_BP", "-2,2")
	t.Setenv("SWAPVAL_ARTIFACTS", "minio")
	t.Setenv("SWAPVAL_POLL_INTERVAL", "250ms")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() err=%v", err)
	}
	if cfg.Workers != 8 || cfg.Artifacts != ArtifactsMinIO || cfg.PollInterval != 250*time.Millisecond {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.Pricing.BumpsBP) != 2 || cfg.Pricing.BumpsBP[1] != 2 {
		t.Fatalf("BumpsBP = %v", cfg.Pricing.BumpsBP)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "workers", mutate: func(c *Config) { c.Workers = 0 }},
		{name: "poll interval", mutate: func(c *Config) { c.PollInterval = -time.Second }},
		{name: "store", mutate: func(c *Config) { c.Store = "redis" }},
		{name: "artifacts", mutate: func(c *Config) { c.Artifacts = "s3" }},
		{name: "log level", mutate: func(c *Config) { c.LogLevel = "loud" }},
		{name: "interpolation", mutate: func(c *Config) { c.Pricing.Interpolation = "cubic" }},
		{name: "deposit basis", mutate: func(c *Config) { c.Pricing.DepositBasis = "BUS/252" }},
		{name: "swap months", mutate: func(c *Config) { c.Pricing.SwapFixedMonths = 5 }},
		{name: "rate bounds", mutate: func(c *Config) { c.Pricing.MinFixedRate = 1 }},
		{name: "holiday date", mutate: func(c *Config) { c.Holidays = map[string][]string{"USD": {"01/09/2025"}} }},
		{name: "joint holidays", mutate: func(c *Config) { c.Holidays = map[string][]string{"USD+TARGET": {"2025-01-09"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("Validate() expected error")
			}
		})
	}
}

func TestRunsConfigCarriesPricing(t *testing.T) {
	cfg := Default()
	cfg.Workers = 3
	cfg.Pricing.PaymentLagDays = 2
	cfg.Holidays = map[string][]string{"USD": {"2025-01-09"}}

	rc, err := cfg.RunsConfig(slog.Default(), nil)
	if err != nil {
		t.Fatalf("RunsConfig() err=%v", err)
	}
	if rc.Workers != 3 || rc.PaymentLagDays != 2 || rc.ModelVersion != "swapval-1" || rc.PollInterval != 2*time.Second {
		t.Fatalf("unexpected runs config %+v", rc)
	}
	if rc.Auditor != nil {
		t.Fatalf("expected no auditor")
	}
	usd, err := rc.Calendars.Lookup("USD")
	if err != nil {
		t.Fatalf("Lookup() err=%v", err)
	}
	if !usd.IsHoliday(domain.Day(2025, time.January, 9)) {
		t.Fatalf("configured holiday missing from runs calendars")
	}
	if rc.Instrument.Calendars == nil || rc.Instrument.MaxFixedRate.String() != "0.5" {
		t.Fatalf("unexpected instrument options %+v", rc.Instrument)
	}
	if rc.Curve.Method != domain.LogLinear || len(rc.Sensitivity.BumpsBP) != 4 {
		t.Fatalf("unexpected curve or sensitivity options")
	}

	cfg.Holidays = map[string][]string{"USD": {"not-a-date"}}
	if _, err := cfg.RunsConfig(nil, nil); err == nil {
		t.Fatalf("expected holiday parse error")
	}
}
