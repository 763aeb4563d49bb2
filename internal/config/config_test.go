package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

func TestConfig_LoadValid(t *testing.T) {
	path := writeTestConfig(t, `{
		"active_exchange": "binancefutures",
		"trading_mode": "paper",
		"capital": 10000,
		"risk": {
			"max_open_trades": 3,
			"max_portfolio_risk_pct": 20,
			"daily_loss_limit_pct": 5,
			"max_loss_per_trade_pct": 2,
			"liquidity_cap_pct": 0.5
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ActiveExchange != "binancefutures" {
		t.Errorf("expected binancefutures, got %s", cfg.ActiveExchange)
	}
	if cfg.TradingMode != ModePaper {
		t.Errorf("expected paper mode, got %s", cfg.TradingMode)
	}
	if cfg.Capital != 10000 {
		t.Errorf("expected capital 10000, got %f", cfg.Capital)
	}
}

func TestConfig_LoadAppliesDefaultsForOmittedFields(t *testing.T) {
	path := writeTestConfig(t, `{"capital": 5000}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Capital != 5000 {
		t.Errorf("expected overridden capital 5000, got %f", cfg.Capital)
	}
	if cfg.Risk.MaxOpenTrades != Default().Risk.MaxOpenTrades {
		t.Errorf("expected default max_open_trades to survive, got %d", cfg.Risk.MaxOpenTrades)
	}
	if cfg.Scanner.MinMomentumScore != Default().Scanner.MinMomentumScore {
		t.Errorf("expected default min_momentum_score, got %d", cfg.Scanner.MinMomentumScore)
	}
}

func TestConfig_LoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestConfig_LoadInvalidJSON(t *testing.T) {
	path := writeTestConfig(t, `{not valid json`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid json")
	}
}

func TestConfig_ValidateRejectsBadTradingMode(t *testing.T) {
	cfg := Default()
	cfg.TradingMode = "chaos"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid trading_mode")
	}
}

func TestConfig_ValidateRejectsNonPositiveCapital(t *testing.T) {
	cfg := Default()
	cfg.Capital = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero capital")
	}
}

func TestConfig_ValidateRejectsZeroMaxOpenTrades(t *testing.T) {
	cfg := Default()
	cfg.Risk.MaxOpenTrades = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero max_open_trades")
	}
}

func TestConfig_LiveModeRequiresExchangeConfig(t *testing.T) {
	cfg := Default()
	cfg.TradingMode = ModeLive
	cfg.DatabaseURL = "postgres://x/y"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error: live mode without exchange_config")
	}
}

func TestConfig_LiveModeRequiresDatabaseURL(t *testing.T) {
	cfg := Default()
	cfg.TradingMode = ModeLive
	cfg.ExchangeConfig = map[string]json.RawMessage{
		cfg.ActiveExchange: json.RawMessage(`{"api_key":"x","api_secret":"y"}`),
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error: live mode without database_url")
	}
}

func TestConfig_LiveModeCapsMaxOpenTrades(t *testing.T) {
	cfg := Default()
	cfg.TradingMode = ModeLive
	cfg.DatabaseURL = "postgres://x/y"
	cfg.ExchangeConfig = map[string]json.RawMessage{
		cfg.ActiveExchange: json.RawMessage(`{"api_key":"x","api_secret":"y"}`),
	}
	cfg.Risk.MaxOpenTrades = 11
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error: max_open_trades over 10 in live mode")
	}
}

func TestApplyEnvOverrides_Capital(t *testing.T) {
	t.Setenv("CAPITAL", "25000")
	cfg := Default()
	applyEnvOverrides(&cfg)
	if cfg.Capital != 25000 {
		t.Errorf("expected capital overridden to 25000, got %f", cfg.Capital)
	}
}

func TestApplyEnvOverrides_LiveMode(t *testing.T) {
	t.Setenv("LIVE_MODE", "true")
	cfg := Default()
	applyEnvOverrides(&cfg)
	if cfg.TradingMode != ModeLive {
		t.Errorf("expected live mode, got %s", cfg.TradingMode)
	}
}

func TestApplyEnvOverrides_MaxOpenTrades(t *testing.T) {
	t.Setenv("MAX_OPEN_TRADES", "7")
	cfg := Default()
	applyEnvOverrides(&cfg)
	if cfg.Risk.MaxOpenTrades != 7 {
		t.Errorf("expected max_open_trades 7, got %d", cfg.Risk.MaxOpenTrades)
	}
}
