// Package config loads runtime settings for the bikesim binaries.
//
// Values come from built-in defaults, then an optional TOML file named by
// BIKESIM_CONFIG, then environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"
)

// Duration wraps time.Duration so TOML files can use "30s" style strings.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("config: duration %q: %w", b, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

type ServerConfig struct {
	Addr            string   `toml:"addr"`
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	RunScheduler    bool     `toml:"run_scheduler"`
}

type StoreConfig struct {
	DatabaseURL   string   `toml:"database_url"`
	RedisURL      string   `toml:"redis_url"`
	CacheTTL      Duration `toml:"cache_ttl"`
	ClickHouseDSN string   `toml:"clickhouse_dsn"`
}

type SchedulerConfig struct {
	Interval    Duration `toml:"interval"`
	Concurrency int      `toml:"concurrency"`
	GameTimeout Duration `toml:"game_timeout"`
	RunOnce     bool     `toml:"run_once"`
}

type EngineConfig struct {
	Lease           Duration        `toml:"lease"`
	UnitCost        decimal.Decimal `toml:"unit_cost"`
	OpeningStock    int             `toml:"opening_stock"`
	MaxPerLine      int             `toml:"max_per_line"`
	CreditLine      decimal.Decimal `toml:"credit_line"`
	ReportCacheSize int             `toml:"report_cache_size"`
}

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Store     StoreConfig     `toml:"store"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Engine    EngineConfig    `toml:"engine"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		Log: LogConfig{Level: slog.LevelInfo, Format: "json"},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration{10 * time.Second},
			WriteTimeout:    Duration{10 * time.Second},
			ShutdownTimeout: Duration{5 * time.Second},
		},
		Store: StoreConfig{CacheTTL: Duration{30 * time.Second}},
		Scheduler: SchedulerConfig{
			Interval:    Duration{5 * time.Second},
			Concurrency: 8,
			GameTimeout: Duration{30 * time.Second},
		},
		Engine: EngineConfig{
			Lease:           Duration{2 * time.Minute},
			UnitCost:        decimal.NewFromInt(300),
			OpeningStock:    100,
			MaxPerLine:      10000,
			CreditLine:      decimal.Zero,
			ReportCacheSize: 1024,
		},
	}
}

// Load applies the optional TOML file and then the environment on top of the
// defaults.
func Load() (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("BIKESIM_CONFIG")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	if err := toml.NewDecoder(file).DisallowUnknownFields().Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Server.Addr = port
	} else {
		cfg.Server.Addr = envDefault("BIKESIM_ADDR", cfg.Server.Addr)
	}
	if lvl := strings.TrimSpace(os.Getenv("LOG_LEVEL")); lvl != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(lvl)); err == nil {
			cfg.Log.Level = l
		}
	}
	cfg.Log.Format = envDefault("LOG_FORMAT", cfg.Log.Format)

	cfg.Server.RunScheduler = envBoolDefault("BIKESIM_RUN_SCHEDULER", cfg.Server.RunScheduler)

	cfg.Store.DatabaseURL = envDefault("DATABASE_URL", cfg.Store.DatabaseURL)
	cfg.Store.RedisURL = envDefault("REDIS_URL", cfg.Store.RedisURL)
	cfg.Store.CacheTTL.Duration = envDurationDefault("BIKESIM_CACHE_TTL", cfg.Store.CacheTTL.Duration)
	cfg.Store.ClickHouseDSN = envDefault("CLICKHOUSE_DSN", cfg.Store.ClickHouseDSN)

	cfg.Scheduler.Interval.Duration = envDurationDefault("BIKESIM_TICK_EVERY", cfg.Scheduler.Interval.Duration)
	cfg.Scheduler.Concurrency = envIntDefault("BIKESIM_CONCURRENCY", cfg.Scheduler.Concurrency)
	cfg.Scheduler.GameTimeout.Duration = envDurationDefault("BIKESIM_GAME_TIMEOUT", cfg.Scheduler.GameTimeout.Duration)
	cfg.Scheduler.RunOnce = envBoolDefault("RUN_ONCE", cfg.Scheduler.RunOnce)

	cfg.Engine.Lease.Duration = envDurationDefault("BIKESIM_SETTLE_LEASE", cfg.Engine.Lease.Duration)
	cfg.Engine.UnitCost = envDecimalDefault("BIKESIM_UNIT_COST", cfg.Engine.UnitCost)
	cfg.Engine.OpeningStock = envIntDefault("BIKESIM_OPENING_STOCK", cfg.Engine.OpeningStock)
	cfg.Engine.MaxPerLine = envIntDefault("BIKESIM_MAX_PER_LINE", cfg.Engine.MaxPerLine)
	cfg.Engine.CreditLine = envDecimalDefault("BIKESIM_CREDIT_LINE", cfg.Engine.CreditLine)
	cfg.Engine.ReportCacheSize = envIntDefault("BIKESIM_REPORT_CACHE", cfg.Engine.ReportCacheSize)
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Scheduler.Interval.Duration <= 0:
		return fmt.Errorf("config: scheduler interval must be positive")
	case c.Scheduler.Concurrency <= 0:
		return fmt.Errorf("config: scheduler concurrency must be positive")
	case c.Engine.Lease.Duration <= 0:
		return fmt.Errorf("config: settlement lease must be positive")
	case !c.Engine.UnitCost.IsPositive():
		return fmt.Errorf("config: unit cost must be positive")
	case c.Engine.MaxPerLine <= 0:
		return fmt.Errorf("config: max per line must be positive")
	case c.Engine.CreditLine.IsNegative():
		return fmt.Errorf("config: credit line cannot be negative")
	case c.Engine.ReportCacheSize <= 0:
		return fmt.Errorf("config: report cache size must be positive")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// Logger builds the process logger described by the log section.
func (c LogConfig) Logger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level, AddSource: c.AddSource}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDecimalDefault(key string, fallback decimal.Decimal) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return fallback
	}
	return d
}
