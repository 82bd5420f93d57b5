// Package config assembles process settings from an optional YAML file and
// SWAPVAL_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/animus-labs/swapval/internal/calendar"
	"github.com/animus-labs/swapval/internal/curve"
	"github.com/animus-labs/swapval/internal/domain"
	"github.com/animus-labs/swapval/internal/instrument"
	"github.com/animus-labs/swapval/internal/platform/env"
	"github.com/animus-labs/swapval/internal/pricer"
	"github.com/animus-labs/swapval/internal/service/runs"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	ArtifactsMemory = "memory"
	ArtifactsMinIO  = "minio"
)

type Config struct {
	Service         string        `yaml:"service"`
	ModelVersion    string        `yaml:"model_version"`
	Workers         int           `yaml:"workers"`
	Store           string        `yaml:"store"`
	Artifacts       string        `yaml:"artifacts"`
	HTTPAddr        string        `yaml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	LogLevel        string        `yaml:"log_level"`
	Pricing         Pricing       `yaml:"pricing"`
	// Holidays adds dates (YYYY-MM-DD) to named calendars. Unknown names
	// become weekend-only calendars with these holidays.
	Holidays map[string][]string `yaml:"holidays"`
}

type Pricing struct {
	Interpolation          string    `yaml:"interpolation"`
	DepositBasis           string    `yaml:"deposit_basis"`
	SwapBasis              string    `yaml:"swap_basis"`
	SwapFixedMonths        int       `yaml:"swap_fixed_months"`
	StubToleranceDays      int       `yaml:"stub_tolerance_days"`
	PaymentLagDays         int       `yaml:"payment_lag_days"`
	MinFixedRate           float64   `yaml:"min_fixed_rate"`
	MaxFixedRate           float64   `yaml:"max_fixed_rate"`
	BumpsBP                []float64 `yaml:"bumps_bp"`
	FXShifts               []float64 `yaml:"fx_shifts"`
	SensitivityParallelism int       `yaml:"sensitivity_parallelism"`
}

func Default() Config {
	return Config{
		Service:         "valuationd",
		ModelVersion:    "swapval-1",
		Workers:         4,
		Store:           StoreMemory,
		Artifacts:       ArtifactsMemory,
		HTTPAddr:        ":8080",
		ShutdownTimeout: 15 * time.Second,
		PollInterval:    2 * time.Second,
		LogLevel:        "info",
		Pricing: Pricing{
			Interpolation:          string(domain.LogLinear),
			DepositBasis:           string(domain.DayCountACT360),
			SwapBasis:              string(domain.DayCountACT360),
			SwapFixedMonths:        12,
			StubToleranceDays:      instrument.DefaultStubToleranceDays,
			PaymentLagDays:         0,
			MinFixedRate:           -0.05,
			MaxFixedRate:           0.50,
			BumpsBP:                []float64{-10, -1, 1, 10},
			FXShifts:               []float64{-0.01, 0.01},
			SensitivityParallelism: 4,
		},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv loads SWAPVAL_CONFIG, applies environment overrides and validates.
func FromEnv() (Config, error) {
	cfg, err := Load(env.String("SWAPVAL_CONFIG", ""))
	if err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var err error
	c.ModelVersion = env.String("SWAPVAL_MODEL_VERSION", c.ModelVersion)
	c.Store = env.String("SWAPVAL_STORE", c.Store)
	c.Artifacts = env.String("SWAPVAL_ARTIFACTS", c.Artifacts)
	c.HTTPAddr = env.String("SWAPVAL_HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = env.String("SWAPVAL_LOG_LEVEL", c.LogLevel)
	if c.Workers, err = env.Int("SWAPVAL_WORKERS", c.Workers); err != nil {
		return err
	}
	if c.ShutdownTimeout, err = env.Duration("SWAPVAL_SHUTDOWN_TIMEOUT", c.ShutdownTimeout); err != nil {
		return err
	}
	if c.PollInterval, err = env.Duration("SWAPVAL_POLL_INTERVAL", c.PollInterval); err != nil {
		return err
	}

	p := &c.Pricing
	p.Interpolation = env.String("SWAPVAL_INTERPOLATION", p.Interpolation)
	if p.StubToleranceDays, err = env.Int("SWAPVAL_STUB_TOLERANCE_DAYS", p.StubToleranceDays); err != nil {
		return err
	}
	if p.PaymentLagDays, err = env.Int("SWAPVAL_PAYMENT_LAG_DAYS", p.PaymentLagDays); err != nil {
		return err
	}
	if p.SensitivityParallelism, err = env.Int("SWAPVAL_SENSITIVITY_PARALLELISM", p.SensitivityParallelism); err != nil {
		return err
	}
	if p.MinFixedRate, err = env.Float("SWAPVAL_MIN_FIXED_RATE", p.MinFixedRate); err != nil {
		return err
	}
	if p.MaxFixedRate, err = env.Float("SWAPVAL_MAX_FIXED_RATE", p.MaxFixedRate); err != nil {
		return err
	}
	if bumps := env.List("SWAPVAL_BUMPS_BP", nil); bumps != nil {
		if p.BumpsBP, err = parseFloats("SWAPVAL_BUMPS_BP", bumps); err != nil {
			return err
		}
	}
	return nil
}

func parseFloats(key string, items []string) ([]float64, error) {
	out := make([]float64, 0, len(items))
	for _, item := range items {
		d, err := decimal.NewFromString(item)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", key, err)
		}
		out = append(out, d.InexactFloat64())
	}
	return out, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Service) == "" {
		return errors.New("service is required")
	}
	if strings.TrimSpace(c.ModelVersion) == "" {
		return errors.New("model version is required")
	}
	if c.Workers < 1 {
		return errors.New("workers must be >= 1")
	}
	switch c.Store {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	switch c.Artifacts {
	case ArtifactsMemory, ArtifactsMinIO:
	default:
		return fmt.Errorf("unknown artifact store %q", c.Artifacts)
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.PollInterval < 0 {
		return errors.New("poll interval must be >= 0")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}

	p := c.Pricing
	switch domain.InterpolationMethod(strings.ToUpper(p.Interpolation)) {
	case domain.LogLinear, domain.LinearZero:
	default:
		return fmt.Errorf("unknown interpolation %q", p.Interpolation)
	}
	if !domain.KnownDayCount(domain.NormalizeDayCount(domain.DayCount(p.DepositBasis))) {
		return fmt.Errorf("unknown deposit basis %q", p.DepositBasis)
	}
	if !domain.KnownDayCount(domain.NormalizeDayCount(domain.DayCount(p.SwapBasis))) {
		return fmt.Errorf("unknown swap basis %q", p.SwapBasis)
	}
	if p.SwapFixedMonths < 1 || 12%p.SwapFixedMonths != 0 {
		return errors.New("swap fixed months must divide 12")
	}
	if p.StubToleranceDays < 0 {
		return errors.New("stub tolerance must be >= 0")
	}
	if p.PaymentLagDays < 0 {
		return errors.New("payment lag must be >= 0")
	}
	if p.MinFixedRate >= p.MaxFixedRate {
		return errors.New("min fixed rate must be below max fixed rate")
	}
	if p.SensitivityParallelism < 1 {
		return errors.New("sensitivity parallelism must be >= 1")
	}
	for name, dates := range c.Holidays {
		if strings.Contains(name, "+") {
			return fmt.Errorf("holidays for joint calendar %q: list each member", name)
		}
		for _, d := range dates {
			if _, err := time.Parse(time.DateOnly, d); err != nil {
				return fmt.Errorf("holiday %q for %s: %w", d, name, err)
			}
		}
	}
	return nil
}

func parseLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

// Level returns the configured slog level, defaulting to info.
func (c Config) Level() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// Calendars builds the calendar registry with configured holiday additions.
func (c Config) Calendars() (*calendar.Registry, error) {
	reg := calendar.NewRegistry()
	for name, dates := range c.Holidays {
		parsed := make([]time.Time, 0, len(dates))
		for _, d := range dates {
			t, err := time.Parse(time.DateOnly, d)
			if err != nil {
				return nil, fmt.Errorf("holiday %q for %s: %w", d, name, err)
			}
			parsed = append(parsed, t)
		}
		if err := reg.AddHolidays(name, parsed); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (c Config) CurveOptions() curve.Options {
	return curve.Options{
		Method:          domain.InterpolationMethod(strings.ToUpper(c.Pricing.Interpolation)),
		DepositBasis:    domain.NormalizeDayCount(domain.DayCount(c.Pricing.DepositBasis)),
		SwapBasis:       domain.NormalizeDayCount(domain.DayCount(c.Pricing.SwapBasis)),
		SwapFixedMonths: c.Pricing.SwapFixedMonths,
	}
}

func (c Config) SensitivityOptions() pricer.SensitivityOptions {
	return pricer.SensitivityOptions{
		BumpsBP:     append([]float64(nil), c.Pricing.BumpsBP...),
		FXShifts:    append([]float64(nil), c.Pricing.FXShifts...),
		Parallelism: c.Pricing.SensitivityParallelism,
		Curve:       c.CurveOptions(),
	}
}

func (c Config) InstrumentOptions(calendars instrument.CalendarSet) instrument.Options {
	return instrument.Options{
		MinFixedRate:      decimal.NewFromFloat(c.Pricing.MinFixedRate),
		MaxFixedRate:      decimal.NewFromFloat(c.Pricing.MaxFixedRate),
		StubToleranceDays: c.Pricing.StubToleranceDays,
		Calendars:         calendars,
	}
}

// RunsConfig turns the settings into orchestrator options. auditor may be nil.
func (c Config) RunsConfig(logger *slog.Logger, auditor runs.TransitionAuditor) (runs.Config, error) {
	calendars, err := c.Calendars()
	if err != nil {
		return runs.Config{}, err
	}
	return runs.Config{
		Workers:        c.Workers,
		ModelVersion:   c.ModelVersion,
		PaymentLagDays: c.Pricing.PaymentLagDays,
		PollInterval:   c.PollInterval,
		Instrument:     c.InstrumentOptions(calendars),
		Curve:          c.CurveOptions(),
		Sensitivity:    c.SensitivityOptions(),
		Calendars:      calendars,
		Auditor:        auditor,
		Logger:         logger,
	}, nil
}
