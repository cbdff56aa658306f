package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "# empty\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.MaxStocks != 100 {
		t.Errorf("MaxStocks = %d, want 100", cfg.MaxStocks)
	}
	if cfg.WashSaleDays != 31 {
		t.Errorf("WashSaleDays = %d, want 31", cfg.WashSaleDays)
	}
	if cfg.Interval() != 24*time.Hour {
		t.Errorf("Interval = %s, want 24h", cfg.Interval())
	}
	if cfg.Optimizer.TaxCoefficient != 0.4 {
		t.Errorf("TaxCoefficient = %v, want 0.4", cfg.Optimizer.TaxCoefficient)
	}
	if cfg.Optimizer.TrackingErrorFunc != "least_squared" {
		t.Errorf("TrackingErrorFunc = %q, want least_squared", cfg.Optimizer.TrackingErrorFunc)
	}
	if cfg.API.SessionTTL() != 12*time.Hour {
		t.Errorf("SessionTTL = %s, want 12h", cfg.API.SessionTTL())
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if cfg.Schedule.Timezone != "America/New_York" {
		t.Errorf("Schedule.Timezone = %q", cfg.Schedule.Timezone)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
max_stocks: 40
wash_sale_days: 28
initial_cash: 50000
interval_minutes: 60
ticker_blacklist_extra: [GME, AMC]
ibkr_vs_cache_pf_cash_diff_tolerance: 2.5
optimizer:
  tax_coefficient: 0.55
  max_deviation_from_true_weight: 0.02
  max_total_deviation: 0.5
  cash_constraint: 0.95
  tracking_error_func: var_tracking_diff
  lookback_days: 30
dry_run:
  desired_portfolio_file: out/desired.json
  rotate_desired_current: true
broker:
  kind: ibkr
  base_url: https://localhost:5000
  account_id: U1234567
sqlite:
  market_data_path: /tmp/md.db
  journal_path: /tmp/journal.db
api:
  addr: ":8081"
  session_ttl_minutes: 60
schedule:
  enabled: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.MaxStocks != 40 || cfg.WashSaleDays != 28 {
		t.Errorf("universe settings = (%d, %d), want (40, 28)", cfg.MaxStocks, cfg.WashSaleDays)
	}
	if cfg.InitialCash != 50000 {
		t.Errorf("InitialCash = %v", cfg.InitialCash)
	}
	if cfg.Interval() != time.Hour {
		t.Errorf("Interval = %s, want 1h", cfg.Interval())
	}
	if len(cfg.TickerBlacklistExtra) != 2 || cfg.TickerBlacklistExtra[0] != "GME" {
		t.Errorf("TickerBlacklistExtra = %v", cfg.TickerBlacklistExtra)
	}
	if cfg.CashDiffTolerance != 2.5 {
		t.Errorf("CashDiffTolerance = %v", cfg.CashDiffTolerance)
	}
	if cfg.Optimizer.TrackingErrorFunc != "var_tracking_diff" || cfg.Optimizer.LookbackDays != 30 {
		t.Errorf("optimizer = %+v", cfg.Optimizer)
	}
	if !cfg.DryRun.RotateDesiredCurrent || cfg.DryRun.DesiredPortfolioFile != "out/desired.json" {
		t.Errorf("dry_run = %+v", cfg.DryRun)
	}
	if cfg.Broker.Kind != "ibkr" || cfg.Broker.AccountID != "U1234567" {
		t.Errorf("broker = %+v", cfg.Broker)
	}
	if cfg.SQLite.JournalPath != "/tmp/journal.db" {
		t.Errorf("SQLite = %+v", cfg.SQLite)
	}
	if cfg.API.Addr != ":8081" || cfg.API.SessionTTL() != time.Hour {
		t.Errorf("api = %+v", cfg.API)
	}
	if !cfg.Schedule.Enabled {
		t.Error("Schedule.Enabled = false, want true")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("API_PASSWORD_HASH", "$2a$10$abcdefghijklmnopqrstuv")
	t.Setenv("APCA_API_KEY_ID", "PKTEST")

	path := writeConfig(t, `
redis:
  addr: localhost:6379
api:
  password_hash: from-file
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("Redis.Addr = %q, want env override", cfg.Redis.Addr)
	}
	if cfg.API.PasswordHash != "$2a$10$abcdefghijklmnopqrstuv" {
		t.Errorf("PasswordHash = %q, want env override", cfg.API.PasswordHash)
	}
	if cfg.Broker.APIKey != "PKTEST" {
		t.Errorf("Broker.APIKey = %q, want env value", cfg.Broker.APIKey)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown strategy", func(c *Config) { c.Optimizer.TrackingErrorFunc = "l2_norm" }, "tracking_error_func"},
		{"unknown broker", func(c *Config) { c.Broker.Kind = "robinhood" }, "broker kind"},
		{"bad timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }, "timezone"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log level"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var cfg Config
			setDefaults(&cfg)
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate: nil error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load of missing file: nil error")
	}
}
