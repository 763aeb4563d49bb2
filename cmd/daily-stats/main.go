// Command daily-stats prints a terminal report of closed and open
// positions for a given UTC date, read straight from the same
// Postgres-backed ledger storage the engine writes to.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/ridgeline-systems/perpctl/internal/analytics"
	"github.com/ridgeline-systems/perpctl/internal/config"
	"github.com/ridgeline-systems/perpctl/internal/domain"
	"github.com/ridgeline-systems/perpctl/internal/ledger"
	"github.com/ridgeline-systems/perpctl/internal/storage"
)

const (
	Reset   = "\033[0m"
	Red     = "\033[0;31m"
	Green   = "\033[0;32m"
	Yellow  = "\033[1;33m"
	Blue    = "\033[0;34m"
	Cyan    = "\033[0;36m"
	Magenta = "\033[0;35m"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to configuration file")
	dateFlag := flag.String("date", "", "date in YYYY-MM-DD format, UTC (defaults to today)")
	flag.Parse()

	date := *dateFlag
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		fmt.Fprintf(os.Stderr, "invalid date format, use YYYY-MM-DD\n")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("daily-stats requires database_url to be set")
	}

	ctx := context.Background()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	records, err := loadHistoryForDate(ctx, db, date)
	if err != nil {
		log.Fatalf("failed to load position history: %v", err)
	}
	report := analytics.Analyze(records, cfg.Capital)
	displaySummary(date, report)

	if report.TotalTrades > 0 {
		displayDetailedTrades(records)
	}

	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open ledger store: %v", err)
	}
	defer store.Close()

	open, err := store.ListOpen(ctx)
	if err != nil {
		log.Fatalf("failed to list open positions: %v", err)
	}
	displayOpenPositions(open)
}

// loadHistoryForDate queries position_history for rows written on the
// given UTC date and decodes each JSONB record into a
// ledger.HistoryRecord. The history log has no per-field columns, so
// the date filter runs against written_at directly.
func loadHistoryForDate(ctx context.Context, db *sql.DB, date string) ([]ledger.HistoryRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT record FROM position_history
		WHERE written_at::date = $1::date
		ORDER BY written_at DESC
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ledger.HistoryRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec ledger.HistoryRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode history record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func displaySummary(date string, report *analytics.PerformanceReport) {
	fmt.Printf("%s╔══════════════════════════════════════════════════════════╗%s\n", Cyan, Reset)
	fmt.Printf("%s║           DAILY TRADING STATISTICS                        ║%s\n", Cyan, Reset)
	fmt.Printf("%s║           Date: %-44s║%s\n", Cyan, date, Reset)
	fmt.Printf("%s╚══════════════════════════════════════════════════════════╝%s\n", Cyan, Reset)
	fmt.Println()

	if report.TotalTrades == 0 {
		fmt.Printf("%sNo closed positions for %s%s\n\n", Yellow, date, Reset)
		return
	}

	pnlColor := Green
	if report.TotalPnL < 0 {
		pnlColor = Red
	}

	fmt.Printf("%s%s%s\n", Blue, strings.Repeat("─", 60), Reset)
	fmt.Printf("%sSUMMARY%s\n", Blue, Reset)
	fmt.Printf("%s%s%s\n", Blue, strings.Repeat("─", 60), Reset)

	fmt.Printf("  %sTotal Trades:%s      %s%d%s\n", Yellow, Reset, Green, report.TotalTrades, Reset)
	fmt.Printf("  %sWinning Trades:%s    %s%d%s\n", Yellow, Reset, Green, report.WinningTrades, Reset)
	fmt.Printf("  %sLosing Trades:%s     %s%d%s\n", Yellow, Reset, Red, report.LosingTrades, Reset)
	fmt.Printf("  %sWin Rate:%s          %s%.1f%%%s\n", Yellow, Reset, Green, report.WinRate, Reset)
	fmt.Println()

	fmt.Printf("  %sDaily P&L:%s         %s$%.2f%s\n", Yellow, Reset, pnlColor, report.TotalPnL, Reset)
	fmt.Printf("  %sProfit Factor:%s     %s%.2f%s\n", Yellow, Reset, Cyan, report.ProfitFactor, Reset)
	fmt.Printf("  %sMax Drawdown:%s      %s$%.2f (%.2f%%)%s\n", Yellow, Reset, Cyan, report.MaxDrawdown, report.MaxDrawdownPct, Reset)
	fmt.Printf("  %sSharpe Ratio:%s      %s%.2f%s\n", Yellow, Reset, Cyan, report.SharpeRatio, Reset)

	fmt.Printf("%s%s%s\n", Blue, strings.Repeat("─", 60), Reset)
	fmt.Println()
}

func displayDetailedTrades(records []ledger.HistoryRecord) {
	fmt.Printf("%s%s%s\n", Blue, strings.Repeat("─", 60), Reset)
	fmt.Printf("%sDETAILED TRADES%s\n", Blue, Reset)
	fmt.Printf("%s%s%s\n", Blue, strings.Repeat("─", 60), Reset)
	fmt.Println()

	fmt.Printf("%s%-10s %-6s %-12s %-12s %-12s %-10s%s\n",
		Magenta, "Symbol", "Dir", "Entry", "Exit", "P&L", "Closed", Reset)
	fmt.Printf("%s%s%s\n", Magenta, strings.Repeat("-", 70), Reset)

	for _, rec := range records {
		p := rec.Position
		pnlColor := Green
		var pnl float64
		if p.RealizedPnL != nil {
			pnl, _ = p.RealizedPnL.Float64()
		}
		if pnl < 0 {
			pnlColor = Red
		}
		exitPrice := decimal.Zero
		if p.ExitPrice != nil {
			exitPrice = *p.ExitPrice
		}
		closedAt := rec.WrittenAt
		if p.ClosedAt != nil {
			closedAt = *p.ClosedAt
		}

		fmt.Printf("%-10s %-6s %-12s %-12s %s%-12.2f%s %-10s\n",
			p.Symbol,
			string(p.Direction),
			p.EntryPrice.StringFixed(4),
			exitPrice.StringFixed(4),
			pnlColor,
			pnl,
			Reset,
			closedAt.Format("15:04:05"),
		)
	}
	fmt.Println()
}

func displayOpenPositions(positions []domain.Position) {
	fmt.Printf("%s%s%s\n", Blue, strings.Repeat("─", 60), Reset)
	fmt.Printf("%sOPEN POSITIONS%s\n", Blue, Reset)
	fmt.Printf("%s%s%s\n", Blue, strings.Repeat("─", 60), Reset)
	fmt.Println()

	if len(positions) == 0 {
		fmt.Printf("  %sNo open positions%s\n", Green, Reset)
	} else {
		fmt.Printf("  %sOpen Positions: %s%d%s\n", Yellow, Green, len(positions), Reset)
		fmt.Println()

		fmt.Printf("%s%-10s %-6s %-8s %-12s %-12s %-12s%s\n",
			Magenta, "Symbol", "Dir", "Lev", "Entry", "Stop Loss", "Target", Reset)
		fmt.Printf("%s%s%s\n", Magenta, strings.Repeat("-", 70), Reset)

		for _, p := range positions {
			fmt.Printf("%-10s %-6s %-8s %-12s %-12s %-12s\n",
				p.Symbol,
				string(p.Direction),
				fmt.Sprintf("%dx", p.Leverage),
				p.EntryPrice.StringFixed(4),
				p.SLPrice.StringFixed(4),
				p.TPPrice.StringFixed(4),
			)
		}
	}

	fmt.Println()
	fmt.Printf("%s╔══════════════════════════════════════════════════════════╗%s\n", Cyan, Reset)
	fmt.Printf("%s║                    END OF REPORT                          ║%s\n", Cyan, Reset)
	fmt.Printf("%s╚══════════════════════════════════════════════════════════╝%s\n", Cyan, Reset)
}
