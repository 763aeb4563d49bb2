// Package config provides application-wide configuration management.
// All configuration is loaded from a JSON file plus environment variable
// overrides. No configuration is hardcoded in scanner or engine logic.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Mode defines whether the system places real orders on the venue.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// Config holds all system configuration.
// Loaded at startup; the reloadable fields (see ConfigWatcher) may be
// replaced at runtime by a hot-reload.
type Config struct {
	// ActiveExchange selects which exchange gateway implementation to use (e.g. "binancefutures").
	ActiveExchange string `json:"active_exchange"`

	// TradingMode controls whether orders reach the venue (live) or are simulated (paper).
	// Mirrors LIVE_MODE from the external configuration surface.
	TradingMode Mode `json:"trading_mode"`

	// Capital is the nominal capital used for sizing and limit calculations.
	Capital float64 `json:"capital"`

	Risk      RiskConfig      `json:"risk"`
	Scanner   ScannerConfig   `json:"scanner"`
	Engine    EngineConfig    `json:"engine"`
	Closer    CloserConfig    `json:"closer"`
	GatewayCfg GatewayConfig  `json:"gateway"`

	// ExchangeConfig holds per-exchange credentials (API keys, endpoints).
	ExchangeConfig map[string]json.RawMessage `json:"exchange_config"`

	// DatabaseURL is the Postgres DSN backing the risk ledger and history log.
	DatabaseURL string `json:"database_url"`

	// Alert carries the operator notification surface configuration.
	Alert AlertConfig `json:"alert"`

	LogDir string `json:"log_dir"`
}

// AlertConfig configures the outbound operator-alert notifier.
type AlertConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// RiskConfig mirrors invariants I2-I4 and the per-trade loss cap from §4.4.
type RiskConfig struct {
	// MaxOpenTrades is invariant I3.
	MaxOpenTrades int `json:"max_open_trades"`

	// MaxPortfolioRiskPct bounds sum(margin_committed) as a fraction of capital (I2).
	MaxPortfolioRiskPct float64 `json:"max_portfolio_risk_pct"`

	// DailyLossLimitPct trips the circuit breaker (I4).
	DailyLossLimitPct float64 `json:"daily_loss_limit_pct"`

	// MaxLossPerTradePct bounds leverage-adjusted loss at stop (§4.4 step 3).
	MaxLossPerTradePct float64 `json:"max_loss_per_trade_pct"`

	// LiquidityCapPct bounds notional as a fraction of 24h venue volume.
	LiquidityCapPct float64 `json:"liquidity_cap_pct"`
}

// ScannerConfig mirrors the universe filter and scoring thresholds from §4.3.
type ScannerConfig struct {
	MinVolume24h      float64 `json:"min_volume_24h"`
	MinMomentumScore  int     `json:"min_momentum_score"`
	MinATRPct1Min     float64 `json:"min_atr_pct_1min"`
	PreFilterTopK     int     `json:"prefilter_top_k"`
	QuoteAllowlist    []string `json:"quote_allowlist"`
	SymbolDenylist    []string `json:"symbol_denylist"`
	AffinityPath      string  `json:"affinity_path"`
}

// EngineConfig mirrors the trading engine's ATR multipliers and timeouts (§4.4).
type EngineConfig struct {
	TPMult             float64 `json:"tp_mult"`
	SLMult             float64 `json:"sl_mult"`
	CommitTimeoutSec   int     `json:"commit_timeout_sec"`
}

// CloserConfig mirrors the exit state machine parameters from §4.5.
type CloserConfig struct {
	MaxHoldMinutes         int     `json:"max_hold_minutes"`
	FastExitMinutes        int     `json:"fast_exit_minutes"`
	FastExitThresholdPct   float64 `json:"fast_exit_threshold_pct"`
	NewsBlackoutWindowMin  int     `json:"news_blackout_window_min"`
	CloseRetryAttempts     int     `json:"close_retry_attempts"`
	StuckAfterCycles       int     `json:"stuck_after_cycles"`
}

// GatewayConfig mirrors the market data gateway's cache TTLs and rate limits (§4.2).
type GatewayConfig struct {
	TickerTTLSec    int `json:"ticker_ttl_sec"`
	OrderBookTTLSec int `json:"order_book_ttl_sec"`
	RateLimitPerMin int `json:"rate_limit_per_min"`
}

// Default returns the configuration surface's documented defaults (spec §6),
// overridable by a config file and then by environment variables in Load.
func Default() Config {
	return Config{
		ActiveExchange: "binancefutures",
		TradingMode:    ModePaper,
		Capital:        10000,
		Risk: RiskConfig{
			MaxOpenTrades:       3,
			MaxPortfolioRiskPct: 20,
			DailyLossLimitPct:   5,
			MaxLossPerTradePct:  2,
			LiquidityCapPct:     0.5,
		},
		Scanner: ScannerConfig{
			MinVolume24h:     5_000_000,
			MinMomentumScore: 60,
			MinATRPct1Min:    0.25,
			PreFilterTopK:    50,
			QuoteAllowlist:   []string{"USDT"},
		},
		Engine: EngineConfig{
			TPMult:           2.0,
			SLMult:           1.0,
			CommitTimeoutSec: 10,
		},
		Closer: CloserConfig{
			MaxHoldMinutes:        10,
			FastExitMinutes:       3,
			FastExitThresholdPct:  0.3,
			NewsBlackoutWindowMin: 10,
			CloseRetryAttempts:    3,
			StuckAfterCycles:      3,
		},
		GatewayCfg: GatewayConfig{
			TickerTTLSec:    30,
			OrderBookTTLSec: 5,
			RateLimitPerMin: 1200,
		},
	}
}

// Load reads configuration from a JSON file, applying documented defaults
// for anything the file omits, then environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("config: resolve path: %w", err)
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("config: read file %s: %w", absPath, err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse json: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LIVE_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil && b {
			cfg.TradingMode = ModeLive
		} else {
			cfg.TradingMode = ModePaper
		}
	}
	if v := os.Getenv("CAPITAL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Capital = f
		}
	}
	if v := os.Getenv("MAX_OPEN_TRADES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Risk.MaxOpenTrades = n
		}
	}
	if v := os.Getenv("MIN_VOLUME_24H"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Scanner.MinVolume24h = f
		}
	}
	if v := os.Getenv("MIN_MOMENTUM_SCORE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scanner.MinMomentumScore = n
		}
	}
	if v := os.Getenv("TP_MULT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Engine.TPMult = f
		}
	}
	if v := os.Getenv("SL_MULT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Engine.SLMult = f
		}
	}
	if v := os.Getenv("MAX_HOLD_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Closer.MaxHoldMinutes = n
		}
	}
	if v := os.Getenv("FAST_EXIT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Closer.FastExitMinutes = n
		}
	}
	if v := os.Getenv("MAX_LOSS_PER_TRADE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Risk.MaxLossPerTradePct = f * 100
		}
	}
	if v := os.Getenv("MAX_PORTFOLIO_RISK"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Risk.MaxPortfolioRiskPct = f * 100
		}
	}
	if v := os.Getenv("DAILY_LOSS_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Risk.DailyLossLimitPct = f * 100
		}
	}
	if v := os.Getenv("NEWS_BLACKOUT_WINDOW_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Closer.NewsBlackoutWindowMin = n
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("ACTIVE_EXCHANGE"); v != "" {
		cfg.ActiveExchange = v
	}
}

// Validate checks that all required configuration fields are present and sane.
func (c *Config) Validate() error {
	if c.ActiveExchange == "" {
		return fmt.Errorf("active_exchange is required")
	}
	if c.TradingMode != ModePaper && c.TradingMode != ModeLive {
		return fmt.Errorf("trading_mode must be 'paper' or 'live', got %q", c.TradingMode)
	}
	if c.Capital <= 0 {
		return fmt.Errorf("capital must be positive, got %f", c.Capital)
	}
	if c.Risk.MaxOpenTrades <= 0 {
		return fmt.Errorf("max_open_trades must be positive, got %d", c.Risk.MaxOpenTrades)
	}
	if c.Risk.MaxPortfolioRiskPct <= 0 || c.Risk.MaxPortfolioRiskPct > 100 {
		return fmt.Errorf("max_portfolio_risk_pct must be in (0, 100], got %f", c.Risk.MaxPortfolioRiskPct)
	}
	if c.Risk.DailyLossLimitPct <= 0 || c.Risk.DailyLossLimitPct > 100 {
		return fmt.Errorf("daily_loss_limit_pct must be in (0, 100], got %f", c.Risk.DailyLossLimitPct)
	}
	if c.Scanner.MinMomentumScore < 0 || c.Scanner.MinMomentumScore > 100 {
		return fmt.Errorf("min_momentum_score must be in [0, 100], got %d", c.Scanner.MinMomentumScore)
	}

	if c.TradingMode == ModeLive {
		if err := c.validateLiveMode(); err != nil {
			return fmt.Errorf("live mode: %w", err)
		}
	}

	return nil
}

// validateLiveMode enforces extra safety checks when running against the real venue.
func (c *Config) validateLiveMode() error {
	if c.ExchangeConfig == nil {
		return fmt.Errorf("exchange_config is required for live trading")
	}
	if _, ok := c.ExchangeConfig[c.ActiveExchange]; !ok {
		return fmt.Errorf("exchange_config[%q] is required for live trading", c.ActiveExchange)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required for live trading")
	}
	if c.Risk.MaxOpenTrades > 10 {
		return fmt.Errorf("max_open_trades cannot exceed 10 in live mode (got %d)", c.Risk.MaxOpenTrades)
	}
	if c.Risk.MaxLossPerTradePct > 5.0 {
		return fmt.Errorf("max_loss_per_trade_pct cannot exceed 5%% in live mode (got %.1f%%)", c.Risk.MaxLossPerTradePct)
	}
	return nil
}
