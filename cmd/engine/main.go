// Package main is the entry point for the perpetual futures trading
// control plane.
//
// The engine:
//  1. Loads configuration
//  2. Initializes the exchange gateway, market data gateway, risk
//     ledger, scanner, trading engine, and position closer
//  3. Runs a startup reconciliation sweep against the live venue
//  4. Schedules the scanner tick (1 min) and closer tick (15s)
//  5. Serves Prometheus metrics and a health-check endpoint
//  6. Shuts down gracefully on SIGINT/SIGTERM
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/ridgeline-systems/perpctl/internal/alert"
	"github.com/ridgeline-systems/perpctl/internal/closer"
	"github.com/ridgeline-systems/perpctl/internal/config"
	"github.com/ridgeline-systems/perpctl/internal/exchange"
	"github.com/ridgeline-systems/perpctl/internal/exchange/binancefutures"
	"github.com/ridgeline-systems/perpctl/internal/exchange/paper"
	"github.com/ridgeline-systems/perpctl/internal/ledger"
	"github.com/ridgeline-systems/perpctl/internal/marketdata"
	"github.com/ridgeline-systems/perpctl/internal/obslog"
	"github.com/ridgeline-systems/perpctl/internal/reconcile"
	"github.com/ridgeline-systems/perpctl/internal/scanner"
	"github.com/ridgeline-systems/perpctl/internal/scheduler"
	"github.com/ridgeline-systems/perpctl/internal/storage"
	"github.com/ridgeline-systems/perpctl/internal/tradingengine"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to configuration file")
	confirmLive := flag.Bool("confirm-live", false, "required safety flag to run in live trading mode")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve /metrics on")
	flag.Parse()

	logger := log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lshortfile)

	if err := godotenv.Load(); err != nil {
		logger.Println("no .env file found, relying on OS environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Printf("config loaded: exchange=%s mode=%s capital=%.2f", cfg.ActiveExchange, cfg.TradingMode, cfg.Capital)

	// ── Live mode safety gate ──
	// Both --confirm-live AND PERPCTL_LIVE_CONFIRMED=true are required
	// to start in live mode, preventing an accidental real-money run.
	if cfg.TradingMode == config.ModeLive {
		envConfirmed := os.Getenv("PERPCTL_LIVE_CONFIRMED") == "true"
		if !*confirmLive || !envConfirmed {
			fmt.Fprintln(os.Stderr, "")
			fmt.Fprintln(os.Stderr, "  ╔═══════════════════════════════════════════════════════════╗")
			fmt.Fprintln(os.Stderr, "  ║                    LIVE MODE BLOCKED                       ║")
			fmt.Fprintln(os.Stderr, "  ╠═══════════════════════════════════════════════════════════╣")
			fmt.Fprintln(os.Stderr, "  ║  Live trading requires TWO explicit confirmations:         ║")
			fmt.Fprintln(os.Stderr, "  ║                                                             ║")
			fmt.Fprintln(os.Stderr, "  ║  1. CLI flag:   --confirm-live                             ║")
			fmt.Fprintln(os.Stderr, "  ║  2. Env var:    PERPCTL_LIVE_CONFIRMED=true                ║")
			fmt.Fprintln(os.Stderr, "  ╚═══════════════════════════════════════════════════════════╝")
			fmt.Fprintln(os.Stderr, "")
			os.Exit(1)
		}
		logger.Println("LIVE MODE ACTIVE — real orders will be placed on the exchange")
	} else {
		logger.Println("PAPER MODE — simulated orders only, no real money at risk")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gateway := buildExchangeGateway(ctx, cfg, logger)
	market := marketdata.New(gateway, cfg.GatewayCfg)

	var store ledger.Store
	if cfg.DatabaseURL != "" {
		pg, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("failed to open postgres store: %v", err)
		}
		defer pg.Close()
		store = pg
		logger.Println("database connected — ledger persisted to postgres")
	} else {
		store = ledger.NewMemStore()
		logger.Println("no database_url configured — ledger is in-memory only")
	}

	capital := decimal.NewFromFloat(cfg.Capital)
	obs := obslog.New(os.Stdout)

	riskLedger := ledger.New(store, cfg.Risk, capital, logger, obs)

	if report, err := reconcile.Sweep(ctx, riskLedger, gateway, cfg.Engine, logger); err != nil {
		logger.Printf("WARNING: startup reconciliation failed: %v", err)
	} else {
		logger.Printf("reconciliation: checked=%d confirmed=%d missing=%d orphaned=%d promoted=%d rolled_back=%d",
			report.Checked, len(report.Confirmed), len(report.MissingAtVenue), len(report.OrphanedAtVenue),
			len(report.Promoted), len(report.RolledBack))
	}

	affinity := loadAffinity(cfg.Scanner.AffinityPath, logger)
	momentumScanner := scanner.New(market, cfg.Scanner, affinity, logger, obs)

	engine := tradingengine.New(riskLedger, gateway, cfg.Risk, cfg.Engine, capital, logger, obs)

	notifier := alert.New(cfg.Alert, logger)
	engine.SetBreakerNotifier(notifier)
	blackout := closer.NewStaticBlackout(nil)
	positionCloser := closer.New(riskLedger, gateway, market, cfg.Closer, blackout, notifier, logger, obs)

	watcher := config.NewConfigWatcher(*configPath, cfg, logger)
	watcher.OnChange(func(old, newCfg *config.Config) {
		riskLedger.UpdateRiskConfig(newCfg.Risk)
		engine.UpdateConfig(newCfg.Risk, newCfg.Engine)
		positionCloser.UpdateConfig(newCfg.Closer)
		momentumScanner.UpdateConfig(newCfg.Scanner)
		*cfg = *newCfg
		logger.Println("hot-reload: config updated")
	})
	if err := watcher.Start(); err != nil {
		logger.Printf("WARNING: config watcher failed to start: %v", err)
	}
	defer watcher.Stop()

	go serveMetrics(*metricsAddr, logger)

	sched := scheduler.New(logger)
	sched.RegisterJob(scheduler.Job{
		Name:   "scan",
		Type:   scheduler.JobTypeScan,
		Period: time.Minute,
		RunFunc: func(ctx context.Context) error {
			return runScanTick(ctx, riskLedger, momentumScanner, engine, cfg, logger)
		},
	})
	sched.RegisterJob(scheduler.Job{
		Name:   "close",
		Type:   scheduler.JobTypeClose,
		Period: 15 * time.Second,
		RunFunc: func(ctx context.Context) error {
			positionCloser.Tick(ctx)
			return nil
		},
	})

	logger.Println("scheduler starting")
	sched.Run(ctx)
	logger.Println("scheduler stopped, shutting down")
}

// runScanTick runs one scanner tick and hands the ranked candidates to
// the trading engine, logging every skipped trade (spec.md §4.4).
func runScanTick(ctx context.Context, l *ledger.Ledger, s *scanner.Scanner, e *tradingengine.Engine, cfg *config.Config, logger *log.Logger) error {
	open, err := l.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("list open: %w", err)
	}
	availableSlots := cfg.Risk.MaxOpenTrades - len(open)
	if availableSlots <= 0 {
		return nil
	}

	candidates, err := s.Scan(ctx, availableSlots)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}

	opened, skipped := e.EvaluateAll(ctx, candidates)
	if len(opened) > 0 {
		logger.Printf("opened positions: %v", opened)
	}
	for _, s := range skipped {
		logger.Printf("skipped trade: symbol=%s reason=%s", s.Symbol, s.Reason)
	}
	return nil
}

// buildExchangeGateway constructs the exchange.Gateway for the
// configured ActiveExchange: paper simulation unless TradingMode is
// live, in which case the binancefutures adapter is wired over
// credentials from ExchangeConfig.
func buildExchangeGateway(ctx context.Context, cfg *config.Config, logger *log.Logger) exchange.Gateway {
	if cfg.TradingMode == config.ModePaper {
		logger.Println("using PAPER exchange client")
		return exchange.New(paper.New())
	}

	raw, ok := cfg.ExchangeConfig[cfg.ActiveExchange]
	if !ok {
		logger.Fatalf("no exchange_config found for %q", cfg.ActiveExchange)
	}
	var creds struct {
		APIKey    string `json:"api_key"`
		APISecret string `json:"api_secret"`
	}
	if err := json.Unmarshal(raw, &creds); err != nil {
		logger.Fatalf("failed to parse exchange_config[%q]: %v", cfg.ActiveExchange, err)
	}

	api := futures.NewClient(creds.APIKey, creds.APISecret)
	logger.Printf("using LIVE exchange client: %s", cfg.ActiveExchange)
	return exchange.New(binancefutures.New(api))
}

func loadAffinity(path string, logger *log.Logger) scanner.AffinityTable {
	if path == "" {
		return scanner.AffinityTable{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Printf("WARNING: affinity table %q not readable: %v", path, err)
		return scanner.AffinityTable{}
	}
	var table scanner.AffinityTable
	if err := json.Unmarshal(data, &table); err != nil {
		logger.Printf("WARNING: affinity table %q invalid: %v", path, err)
		return scanner.AffinityTable{}
	}
	return table
}

func serveMetrics(addr string, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})
	logger.Printf("metrics server listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Printf("metrics server error: %v", err)
	}
}
