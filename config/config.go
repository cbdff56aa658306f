// Package config loads the rebalancer configuration from a YAML file,
// with environment overrides for secrets and infrastructure endpoints.
// Defaults follow the reference parameter set; Load fails fast on
// values the pipeline cannot run with.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"directindex/internal/optimizer"
)

// Config is the full application configuration shared by the cycle
// runner, the API server and the weight loader.
type Config struct {
	MaxStocks            int      `yaml:"max_stocks"`
	WashSaleDays         int      `yaml:"wash_sale_days"`
	InitialCash          float64  `yaml:"initial_cash"` // seeds a fresh dry-run install
	IntervalMinutes      int      `yaml:"interval_minutes"`
	FetchWorkers         int      `yaml:"fetch_workers"`
	BlacklistPath        string   `yaml:"blacklist_path"`
	TickerBlacklistExtra []string `yaml:"ticker_blacklist_extra"`

	// Broker cash vs local ledger cash reconciliation bound, dollars.
	CashDiffTolerance float64 `yaml:"ibkr_vs_cache_pf_cash_diff_tolerance"`

	Optimizer optimizer.Params `yaml:"optimizer"`
	DryRun    DryRunConfig     `yaml:"dry_run"`
	Broker    BrokerConfig     `yaml:"broker"`
	Redis     RedisConfig      `yaml:"redis"`
	SQLite    SQLiteConfig     `yaml:"sqlite"`
	API       APIConfig        `yaml:"api"`
	Notify    NotifyConfig     `yaml:"notify"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Schedule  ScheduleConfig   `yaml:"schedule"`
	Log       LogConfig        `yaml:"log"`
}

// DryRunConfig controls the simulated execution path.
type DryRunConfig struct {
	// DesiredPortfolioFile, when set, receives the latest desired
	// portfolio as JSON after every cycle.
	DesiredPortfolioFile string `yaml:"desired_portfolio_file"`

	// RotateDesiredCurrent makes each dry-run cycle's output the next
	// cycle's input, so paper portfolios evolve over time.
	RotateDesiredCurrent bool `yaml:"rotate_desired_current"`
}

// BrokerConfig selects and configures the live execution venue.
type BrokerConfig struct {
	Kind      string `yaml:"kind"` // "ibkr" or "alpaca"
	BaseURL   string `yaml:"base_url"`
	AccountID string `yaml:"account_id"`

	// Alpaca credentials; normally injected via APCA_API_KEY_ID and
	// APCA_API_SECRET_KEY rather than written here.
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

// RedisConfig locates the hot cache / event bus. Redis is optional:
// an unreachable instance downgrades quotes, events and runtime
// parameters, never the cycle itself.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SQLiteConfig holds the two database paths. Market data and the trade
// journal live in separate files so the journal stays append-mostly.
type SQLiteConfig struct {
	MarketDataPath string `yaml:"market_data_path"`
	JournalPath    string `yaml:"journal_path"`
}

// APIConfig configures the JSON API server.
type APIConfig struct {
	Addr string `yaml:"addr"`

	// PasswordHash is the bcrypt hash of the dashboard password.
	// Required to start the API server; there is no unauthenticated
	// mode.
	PasswordHash string `yaml:"password_hash"`

	// TOTPSecret enables the second factor when non-empty.
	TOTPSecret string `yaml:"totp_secret"`

	SessionTTLMinutes int `yaml:"session_ttl_minutes"`
}

// SessionTTL returns the session lifetime as a duration.
func (c APIConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// NotifyConfig configures cycle summary delivery.
type NotifyConfig struct {
	WebhookURL   string     `yaml:"webhook_url"`
	WebhookToken string     `yaml:"webhook_token"`
	SMTP         SMTPConfig `yaml:"smtp"`
}

// SMTPConfig is the mail relay for summary alerts. Disabled while Host
// is empty.
type SMTPConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// MetricsConfig locates the Prometheus/health listener.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// ScheduleConfig gates live cycles on the venue calendar.
type ScheduleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Timezone string `yaml:"timezone"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// Load reads the YAML file at path, layers .env and environment
// overrides on top, fills defaults and validates. The .env load is
// best-effort; a missing file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Interval returns the schedule loop period as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// applyEnvOverrides layers environment variables over the file values.
// Secrets and per-deployment endpoints belong here, not in the YAML.
func applyEnvOverrides(cfg *Config) {
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.API.PasswordHash = getEnv("API_PASSWORD_HASH", cfg.API.PasswordHash)
	cfg.API.TOTPSecret = getEnv("API_TOTP_SECRET", cfg.API.TOTPSecret)
	cfg.Broker.APIKey = getEnv("APCA_API_KEY_ID", cfg.Broker.APIKey)
	cfg.Broker.APISecret = getEnv("APCA_API_SECRET_KEY", cfg.Broker.APISecret)
	cfg.Notify.WebhookToken = getEnv("NOTIFY_WEBHOOK_TOKEN", cfg.Notify.WebhookToken)
	cfg.Notify.SMTP.Password = getEnv("SMTP_PASSWORD", cfg.Notify.SMTP.Password)
	// Per-process so the runner and API server can share one file.
	cfg.Metrics.Addr = getEnv("METRICS_ADDR", cfg.Metrics.Addr)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
}

func setDefaults(cfg *Config) {
	if cfg.MaxStocks <= 0 {
		cfg.MaxStocks = 100
	}
	if cfg.WashSaleDays <= 0 {
		cfg.WashSaleDays = 31
	}
	if cfg.IntervalMinutes <= 0 {
		cfg.IntervalMinutes = 24 * 60
	}
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = 4
	}
	if cfg.BlacklistPath == "" {
		cfg.BlacklistPath = "data/blacklist.txt"
	}
	if cfg.CashDiffTolerance <= 0 {
		cfg.CashDiffTolerance = 0.1
	}

	if cfg.Optimizer.TaxCoefficient == 0 {
		cfg.Optimizer.TaxCoefficient = 0.4
	}
	if cfg.Optimizer.MaxDeviationFromTrueWeight == 0 {
		cfg.Optimizer.MaxDeviationFromTrueWeight = 0.05
	}
	if cfg.Optimizer.MaxTotalDeviation == 0 {
		cfg.Optimizer.MaxTotalDeviation = 0.9
	}
	if cfg.Optimizer.CashConstraint == 0 {
		cfg.Optimizer.CashConstraint = 0.9
	}
	if cfg.Optimizer.TrackingErrorFunc == "" {
		cfg.Optimizer.TrackingErrorFunc = optimizer.StrategyLeastSquared
	}
	if cfg.Optimizer.LookbackDays <= 0 {
		cfg.Optimizer.LookbackDays = 60
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.SQLite.MarketDataPath == "" {
		cfg.SQLite.MarketDataPath = "data/marketdata.db"
	}
	if cfg.SQLite.JournalPath == "" {
		cfg.SQLite.JournalPath = "data/journal.db"
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = ":8080"
	}
	if cfg.API.SessionTTLMinutes <= 0 {
		cfg.API.SessionTTLMinutes = 12 * 60
	}
	if cfg.Notify.SMTP.Port == 0 {
		cfg.Notify.SMTP.Port = 587
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Schedule.Timezone == "" {
		cfg.Schedule.Timezone = "America/New_York"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate rejects configurations the pipeline cannot run with. The
// optimizer block is validated with the solver's own rules, so a bad
// tracking_error_func fails here rather than mid-cycle.
func (c *Config) Validate() error {
	if err := c.Optimizer.Validate(); err != nil {
		return err
	}
	switch c.Broker.Kind {
	case "", "ibkr", "alpaca":
	default:
		return fmt.Errorf("config: unknown broker kind %q (valid: ibkr, alpaca)", c.Broker.Kind)
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("config: schedule timezone: %w", err)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
