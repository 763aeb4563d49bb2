// Package tradingengine implements C4: it evaluates each candidate the
// scanner emits, sizes the position, walks the reservation handshake
// with the ledger, places the order, and commits or rolls back
// depending on what the venue actually did (spec.md §4.4). Grounded on
// the teacher's strategy evaluation loop, generalized from a single
// in-process lock into the ledger's conditional-write handshake.
package tradingengine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ridgeline-systems/perpctl/internal/config"
	"github.com/ridgeline-systems/perpctl/internal/domain"
	"github.com/ridgeline-systems/perpctl/internal/exchange"
	"github.com/ridgeline-systems/perpctl/internal/ledger"
	"github.com/ridgeline-systems/perpctl/internal/metrics"
	"github.com/ridgeline-systems/perpctl/internal/obslog"
)

// CircuitBreakerNotifier raises an operator-facing alert the first time
// invariant I4 trips for the day.
type CircuitBreakerNotifier interface {
	NotifyCircuitBreaker(ctx context.Context, dailyPnL string) error
}

// Engine is C4.
type Engine struct {
	ledger   *ledger.Ledger
	gateway  exchange.Gateway
	risk     config.RiskConfig
	engine   config.EngineConfig
	capital  decimal.Decimal
	logger   *log.Logger
	obs      *obslog.Logger
	breaker  CircuitBreakerNotifier
	alerted  bool
}

// New creates an Engine.
func New(l *ledger.Ledger, gateway exchange.Gateway, riskCfg config.RiskConfig, engineCfg config.EngineConfig, capital decimal.Decimal, logger *log.Logger, obs *obslog.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[engine] ", log.LstdFlags)
	}
	return &Engine{ledger: l, gateway: gateway, risk: riskCfg, engine: engineCfg, capital: capital, logger: logger, obs: obs}
}

// UpdateConfig replaces the risk/engine configuration atomically on
// hot-reload.
func (e *Engine) UpdateConfig(risk config.RiskConfig, engineCfg config.EngineConfig) {
	e.risk = risk
	e.engine = engineCfg
}

// SetBreakerNotifier wires an operator alert for when the daily-loss
// circuit breaker first trips. Optional; a nil notifier (the default)
// means the breaker trips silently aside from the ledger's own metric.
func (e *Engine) SetBreakerNotifier(n CircuitBreakerNotifier) {
	e.breaker = n
}

// ErrRiskExceeded means the per-trade loss cap still can't be satisfied
// even at 1x leverage (spec.md §4.4 step 3): the candidate is skipped
// rather than opened over-risked.
var ErrRiskExceeded = errors.New("RISK_EXCEEDED")

// SkippedTrade records why a candidate did not result in a position,
// for the skipped-trades log spec.md §4.4 requires.
type SkippedTrade struct {
	Symbol string
	Reason string
}

// EvaluateAll walks ranked candidates in order, attempting to open a
// position for each until the ledger reports no more capacity. Returns
// the symbols opened and the skipped-trade log.
func (e *Engine) EvaluateAll(ctx context.Context, candidates []domain.Candidate) (opened []string, skipped []SkippedTrade) {
	for _, candidate := range candidates {
		symbol, err := e.evaluateOne(ctx, candidate)
		if err != nil {
			skipped = append(skipped, SkippedTrade{Symbol: candidate.Symbol, Reason: err.Error()})
			if errors.Is(err, ledger.ErrCircuitBreaker) {
				e.notifyBreakerOnce(ctx)
				break
			}
			if errors.Is(err, ledger.ErrNoCapacity) {
				// No more portfolio room at all: later, lower-ranked
				// candidates would fail identically.
				break
			}
			continue
		}
		opened = append(opened, symbol)
	}
	if len(skipped) == 0 {
		// A clean tick with nothing skipped means no breach is active;
		// re-arm the alert for the next time one trips.
		e.alerted = false
	}
	return opened, skipped
}

// evaluateOne implements the per-candidate steps of §4.4: adaptive
// leverage, notional sizing with liquidity and per-trade-loss caps,
// reserve, place, commit (or roll back on any failure after reserving).
func (e *Engine) evaluateOne(ctx context.Context, candidate domain.Candidate) (string, error) {
	leverage := domain.LeverageForScore(candidate.Score)

	margin, quantity, leverage, err := e.size(candidate, leverage)
	if err != nil {
		return "", err
	}

	outcome, err := e.ledger.ReserveSlot(ctx, candidate.Symbol, margin, candidate.Direction, candidate.Score, candidate.ATR)
	if err != nil {
		return "", fmt.Errorf("reserve: %w", err)
	}

	side := exchange.SideBuy
	if candidate.Direction == domain.Short {
		side = exchange.SideSell
	}

	callCtx, cancel := context.WithTimeout(ctx, exchange.CallDeadline)
	result, err := e.gateway.PlaceMarketOrder(callCtx, candidate.Symbol, side, quantity, outcome.LeverageGranted)
	cancel()
	if err != nil {
		if rbErr := e.ledger.RollbackReservation(ctx, outcome.ReservationID); rbErr != nil {
			e.logger.Printf("rollback failed for %s after order error: %v", candidate.Symbol, rbErr)
		}
		return "", fmt.Errorf("place order: %w", err)
	}

	if result.Status == exchange.OrderRejected {
		if rbErr := e.ledger.RollbackReservation(ctx, outcome.ReservationID); rbErr != nil {
			e.logger.Printf("rollback failed for %s after rejected order: %v", candidate.Symbol, rbErr)
		}
		return "", fmt.Errorf("order rejected for %s", candidate.Symbol)
	}

	tp, sl := e.tpSl(candidate, result.AvgPrice)
	commitCtx, cancel := context.WithTimeout(ctx, time.Duration(orDefault(e.engine.CommitTimeoutSec, 10))*time.Second)
	defer cancel()

	if err := e.ledger.CommitPosition(commitCtx, outcome.ReservationID, result.AvgPrice, result.FilledQty, tp, sl, candidate.ATR); err != nil {
		// The venue filled the order but the ledger never recorded it
		// as OPEN: a reconciliation sweep must pick this up later.
		e.logger.Printf("commit failed for %s, position exists at venue but not in ledger: %v", candidate.Symbol, err)
		return "", fmt.Errorf("commit: %w", err)
	}

	metrics.LeverageGranted.WithLabelValues(fmt.Sprintf("%dx", outcome.LeverageGranted)).Inc()
	if e.obs != nil {
		e.obs.Event("position_opened", map[string]any{
			"symbol": candidate.Symbol, "direction": string(candidate.Direction),
			"leverage": outcome.LeverageGranted, "entry_price": result.AvgPrice.String(),
			"quantity": result.FilledQty.String(),
		})
	}
	return candidate.Symbol, nil
}

// size computes margin, quantity, and leverage per §4.4: start from the
// candidate's adaptive leverage tier, reduce leverage until the
// leverage-adjusted stop-loss distance stays within MaxLossPerTradePct,
// then cap notional by LiquidityCapPct of 24h volume. If no leverage
// down to 1x satisfies the per-trade loss cap, the candidate is
// infeasible and size returns ErrRiskExceeded (spec.md §4.4 step 3).
func (e *Engine) size(candidate domain.Candidate, leverage int) (margin, quantity decimal.Decimal, grantedLeverage int, err error) {
	if candidate.Price <= 0 || candidate.ATR <= 0 {
		return decimal.Zero, decimal.Zero, 0, fmt.Errorf("invalid candidate price/atr for %s", candidate.Symbol)
	}

	slDistance := e.engine.SLMult * candidate.ATR
	slPct := slDistance / candidate.Price // fraction of price the stop sits away from entry

	capitalFloat := e.capital.InexactFloat64()
	maxLossAbs := capitalFloat * orDefaultFloat(e.risk.MaxLossPerTradePct, 2.0) / 100.0

	// PER_TRADE_FRACTION = 1/MaxOpenTrades (spec.md §4.4 step 2). I2's
	// portfolio-wide risk cap is enforced independently by
	// ledger.ReserveSlot and must not be re-applied here.
	baseRiskCapital := capitalFloat / float64(maxOpenOrOne(e.risk.MaxOpenTrades))

	for leverage >= 1 {
		notionalAtStop := baseRiskCapital * float64(leverage)
		lossAtStop := slPct * float64(leverage) * notionalAtStop
		if lossAtStop <= maxLossAbs {
			break
		}
		if leverage == 1 {
			return decimal.Zero, decimal.Zero, 0, fmt.Errorf("%s: %w", candidate.Symbol, ErrRiskExceeded)
		}
		leverage--
	}

	notional := baseRiskCapital * float64(leverage)

	liquidityCap := candidate.Volume24h * orDefaultFloat(e.risk.LiquidityCapPct, 0.5) / 100.0
	if liquidityCap > 0 && notional > liquidityCap {
		notional = liquidityCap
	}
	if notional <= 0 {
		return decimal.Zero, decimal.Zero, 0, fmt.Errorf("zero notional computed for %s", candidate.Symbol)
	}

	marginFloat := notional / float64(leverage)
	qtyFloat := notional / candidate.Price

	return decimal.NewFromFloat(marginFloat).Round(8), decimal.NewFromFloat(qtyFloat).Round(8), leverage, nil
}

// tpSl derives stop-loss/take-profit prices from the actual fill price,
// not the scanner's pre-fill suggestion, since slippage can move the
// entry between scan and fill.
func (e *Engine) tpSl(candidate domain.Candidate, entryPrice decimal.Decimal) (tp, sl decimal.Decimal) {
	atr := decimal.NewFromFloat(candidate.ATR)
	tpOffset := atr.Mul(decimal.NewFromFloat(orDefaultFloat(e.engine.TPMult, 2.0)))
	slOffset := atr.Mul(decimal.NewFromFloat(orDefaultFloat(e.engine.SLMult, 1.0)))

	if candidate.Direction == domain.Long {
		return entryPrice.Add(tpOffset), entryPrice.Sub(slOffset)
	}
	return entryPrice.Sub(tpOffset), entryPrice.Add(slOffset)
}

// notifyBreakerOnce alerts an operator the first time the daily-loss
// circuit breaker is observed tripped since the alert was last re-armed
// (EvaluateAll re-arms it after a tick with nothing skipped), avoiding a
// repeat alert on every later tick while the breaker stays tripped.
func (e *Engine) notifyBreakerOnce(ctx context.Context) {
	if e.breaker == nil || e.alerted {
		return
	}
	e.alerted = true
	risk, err := e.ledger.RiskSnapshot(ctx)
	dailyPnL := "unknown"
	if err == nil {
		dailyPnL = risk.DailyPnL.String()
	}
	if notifyErr := e.breaker.NotifyCircuitBreaker(ctx, dailyPnL); notifyErr != nil {
		e.logger.Printf("circuit breaker alert failed: %v", notifyErr)
	}
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func orDefaultFloat(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	return v
}

func maxOpenOrOne(v int) int {
	if v <= 0 {
		return 1
	}
	return v
}
