// Package analytics computes performance metrics from closed position
// history records.
//
// It provides:
//   - Win rate, total P&L, average P&L
//   - Maximum drawdown (absolute and percentage)
//   - Sharpe ratio (annualized, assuming 365 trading days since perpetual
//     futures trade around the clock)
//   - Profit factor (gross profits / gross losses)
//   - Average hold time, min/max hold duration
//   - Per-symbol breakdown
//   - Human-readable formatted report
//
// All functions are stateless and work on slices of ledger.HistoryRecord.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ridgeline-systems/perpctl/internal/ledger"
)

// PerformanceReport holds all computed performance metrics.
type PerformanceReport struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64 // percentage (0-100)

	TotalPnL    float64
	AveragePnL  float64
	GrossProfit float64
	GrossLoss   float64

	MaxDrawdown    float64 // absolute drawdown
	MaxDrawdownPct float64 // percentage drawdown from peak
	SharpeRatio    float64 // annualized
	ProfitFactor   float64 // gross profit / gross loss

	AverageHold time.Duration
	MaxHold     time.Duration
	MinHold     time.Duration

	SymbolReports map[string]*SymbolReport
}

// SymbolReport holds per-symbol performance metrics.
type SymbolReport struct {
	Symbol        string
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	TotalPnL      float64
	AveragePnL    float64
	AverageHold   time.Duration
}

// EquityCurvePoint represents a point on the equity curve.
type EquityCurvePoint struct {
	Date     time.Time
	Equity   float64
	Drawdown float64
}

// Analyze computes the full performance report from a slice of closed
// position history records. initialCapital is the starting equity.
// Returns an empty report (not nil) if no records are provided.
func Analyze(records []ledger.HistoryRecord, initialCapital float64) *PerformanceReport {
	report := &PerformanceReport{SymbolReports: make(map[string]*SymbolReport)}

	if len(records) == 0 {
		return report
	}

	sorted := make([]ledger.HistoryRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return closedAt(sorted[i]).Before(closedAt(sorted[j]))
	})

	var totalHold time.Duration
	var pnls []float64
	report.MinHold = time.Duration(math.MaxInt64)

	for _, rec := range sorted {
		pnl := pnlOf(rec)
		pnls = append(pnls, pnl)
		report.TotalTrades++
		report.TotalPnL += pnl

		if pnl > 0 {
			report.WinningTrades++
			report.GrossProfit += pnl
		} else if pnl < 0 {
			report.LosingTrades++
			report.GrossLoss += math.Abs(pnl)
		}

		hold := holdDuration(rec)
		totalHold += hold
		if hold > report.MaxHold {
			report.MaxHold = hold
		}
		if hold < report.MinHold {
			report.MinHold = hold
		}

		sr, ok := report.SymbolReports[rec.Position.Symbol]
		if !ok {
			sr = &SymbolReport{Symbol: rec.Position.Symbol}
			report.SymbolReports[rec.Position.Symbol] = sr
		}
		sr.TotalTrades++
		sr.TotalPnL += pnl
		sr.AverageHold += hold
		if pnl > 0 {
			sr.WinningTrades++
		} else if pnl < 0 {
			sr.LosingTrades++
		}
	}

	report.WinRate = float64(report.WinningTrades) / float64(report.TotalTrades) * 100
	report.AveragePnL = report.TotalPnL / float64(report.TotalTrades)
	report.AverageHold = totalHold / time.Duration(report.TotalTrades)

	if report.GrossLoss > 0 {
		report.ProfitFactor = report.GrossProfit / report.GrossLoss
	} else if report.GrossProfit > 0 {
		report.ProfitFactor = math.Inf(1)
	}

	equity := initialCapital
	peak := equity
	for _, pnl := range pnls {
		equity += pnl
		if equity > peak {
			peak = equity
		}
		dd := peak - equity
		if dd > report.MaxDrawdown {
			report.MaxDrawdown = dd
			if peak > 0 {
				report.MaxDrawdownPct = (dd / peak) * 100
			}
		}
	}

	report.SharpeRatio = computeSharpeRatio(pnls)

	for _, sr := range report.SymbolReports {
		if sr.TotalTrades > 0 {
			sr.WinRate = float64(sr.WinningTrades) / float64(sr.TotalTrades) * 100
			sr.AveragePnL = sr.TotalPnL / float64(sr.TotalTrades)
			sr.AverageHold = sr.AverageHold / time.Duration(sr.TotalTrades)
		}
	}

	return report
}

// EquityCurve generates the equity curve from records sorted by close time.
func EquityCurve(records []ledger.HistoryRecord, initialCapital float64) []EquityCurvePoint {
	if len(records) == 0 {
		return nil
	}

	sorted := make([]ledger.HistoryRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return closedAt(sorted[i]).Before(closedAt(sorted[j]))
	})

	equity := initialCapital
	peak := equity
	points := make([]EquityCurvePoint, 0, len(sorted)+1)

	points = append(points, EquityCurvePoint{Date: sorted[0].Position.OpenedAt, Equity: equity})

	for _, rec := range sorted {
		equity += pnlOf(rec)
		if equity > peak {
			peak = equity
		}
		dd := peak - equity
		points = append(points, EquityCurvePoint{Date: closedAt(rec), Equity: equity, Drawdown: dd})
	}

	return points
}

// FormatReport returns a human-readable text summary of the performance report.
func FormatReport(report *PerformanceReport) string {
	if report == nil || report.TotalTrades == 0 {
		return "No closed positions to analyze."
	}

	var b strings.Builder

	b.WriteString("═══════════════════════════════════════════════════\n")
	b.WriteString("              PERFORMANCE REPORT\n")
	b.WriteString("═══════════════════════════════════════════════════\n\n")

	b.WriteString("── TRADE SUMMARY ──\n")
	fmt.Fprintf(&b, "  Total trades:    %d\n", report.TotalTrades)
	fmt.Fprintf(&b, "  Winning trades:  %d (%.1f%%)\n", report.WinningTrades, report.WinRate)
	fmt.Fprintf(&b, "  Losing trades:   %d\n", report.LosingTrades)
	b.WriteString("\n")

	b.WriteString("── PROFIT & LOSS ──\n")
	fmt.Fprintf(&b, "  Total P&L:       $%.2f\n", report.TotalPnL)
	fmt.Fprintf(&b, "  Average P&L:     $%.2f\n", report.AveragePnL)
	fmt.Fprintf(&b, "  Gross profit:    $%.2f\n", report.GrossProfit)
	fmt.Fprintf(&b, "  Gross loss:      $%.2f\n", report.GrossLoss)
	fmt.Fprintf(&b, "  Profit factor:   %.2f\n", report.ProfitFactor)
	b.WriteString("\n")

	b.WriteString("── RISK METRICS ──\n")
	fmt.Fprintf(&b, "  Max drawdown:    $%.2f (%.2f%%)\n", report.MaxDrawdown, report.MaxDrawdownPct)
	fmt.Fprintf(&b, "  Sharpe ratio:    %.2f\n", report.SharpeRatio)
	b.WriteString("\n")

	b.WriteString("── HOLD TIME ──\n")
	fmt.Fprintf(&b, "  Average:         %v\n", report.AverageHold.Round(time.Second))
	fmt.Fprintf(&b, "  Min:             %v\n", report.MinHold.Round(time.Second))
	fmt.Fprintf(&b, "  Max:             %v\n", report.MaxHold.Round(time.Second))
	b.WriteString("\n")

	if len(report.SymbolReports) > 1 {
		b.WriteString("── SYMBOL BREAKDOWN ──\n")
		for _, sr := range report.SymbolReports {
			fmt.Fprintf(&b, "  [%s]\n", sr.Symbol)
			fmt.Fprintf(&b, "    Trades: %d | Win rate: %.1f%% | P&L: $%.2f | Avg hold: %v\n",
				sr.TotalTrades, sr.WinRate, sr.TotalPnL, sr.AverageHold.Round(time.Second))
		}
		b.WriteString("\n")
	}

	b.WriteString("═══════════════════════════════════════════════════\n")

	return b.String()
}

// ────────────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────────────

func closedAt(rec ledger.HistoryRecord) time.Time {
	if rec.Position.ClosedAt != nil {
		return *rec.Position.ClosedAt
	}
	return rec.WrittenAt
}

func pnlOf(rec ledger.HistoryRecord) float64 {
	if rec.Position.RealizedPnL == nil {
		return 0
	}
	f, _ := rec.Position.RealizedPnL.Float64()
	return f
}

func holdDuration(rec ledger.HistoryRecord) time.Duration {
	d := closedAt(rec).Sub(rec.Position.OpenedAt)
	if d < 0 {
		return 0
	}
	return d
}

// computeSharpeRatio calculates the annualized Sharpe ratio from a
// slice of P&L values. Assumes zero risk-free rate and 365 trading
// days per year.
func computeSharpeRatio(pnls []float64) float64 {
	if len(pnls) < 2 {
		return 0
	}

	var sum float64
	for _, p := range pnls {
		sum += p
	}
	mean := sum / float64(len(pnls))

	var variance float64
	for _, p := range pnls {
		diff := p - mean
		variance += diff * diff
	}
	variance /= float64(len(pnls) - 1)
	stdDev := math.Sqrt(variance)

	if stdDev == 0 {
		return 0
	}

	return (mean / stdDev) * math.Sqrt(365)
}
