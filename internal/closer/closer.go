// Package closer implements C5, the position closer: it evaluates every
// OPEN position against the priority-ordered exit triggers, drives the
// CLOSING handshake with the ledger, and escalates positions that
// repeatedly fail to close at the venue (spec.md §4.5).
package closer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ridgeline-systems/perpctl/internal/config"
	"github.com/ridgeline-systems/perpctl/internal/domain"
	"github.com/ridgeline-systems/perpctl/internal/exchange"
	"github.com/ridgeline-systems/perpctl/internal/ledger"
	"github.com/ridgeline-systems/perpctl/internal/marketdata"
	"github.com/ridgeline-systems/perpctl/internal/obslog"
)

// AlertNotifier raises an operator-facing alert for a STUCK position.
// Satisfied by internal/alert.Notifier; an interface here so closer
// never imports the HTTP transport details.
type AlertNotifier interface {
	NotifyStuck(ctx context.Context, symbol string, cycles int) error
}

// NewsBlackout reports whether symbol is inside a scheduled news
// blackout window. Supplied by the caller; the closer has no opinion
// on where blackout windows come from.
type NewsBlackout interface {
	InBlackout(symbol string, now time.Time) bool
}

// Closer is C5.
type Closer struct {
	ledger   *ledger.Ledger
	gateway  exchange.Gateway
	market   *marketdata.Gateway
	cfg      config.CloserConfig
	blackout NewsBlackout
	alert    AlertNotifier
	logger   *log.Logger
	obs      *obslog.Logger
}

// New creates a Closer.
func New(l *ledger.Ledger, gateway exchange.Gateway, market *marketdata.Gateway, cfg config.CloserConfig, blackout NewsBlackout, alert AlertNotifier, logger *log.Logger, obs *obslog.Logger) *Closer {
	if logger == nil {
		logger = log.New(log.Writer(), "[closer] ", log.LstdFlags)
	}
	return &Closer{ledger: l, gateway: gateway, market: market, cfg: cfg, blackout: blackout, alert: alert, logger: logger, obs: obs}
}

// UpdateConfig replaces the closer configuration atomically on hot-reload.
func (c *Closer) UpdateConfig(cfg config.CloserConfig) {
	c.cfg = cfg
}

// Tick evaluates every OPEN position once. Errors closing an individual
// position are logged and do not stop evaluation of the rest.
func (c *Closer) Tick(ctx context.Context) {
	positions, err := c.ledger.ListOpen(ctx)
	if err != nil {
		c.logger.Printf("list open failed: %v", err)
		return
	}

	now := time.Now().UTC()
	for _, pos := range positions {
		if pos.Status != domain.StatusOpen {
			continue
		}
		reason, triggered := c.evaluate(ctx, pos, now)
		if !triggered {
			continue
		}
		if err := c.closeOne(ctx, pos, reason); err != nil {
			c.logger.Printf("close failed for %s: %v", pos.Symbol, err)
		}
	}
}

// evaluate checks the exit triggers in priority order: SL_HIT > TP_HIT
// > NEWS_BLACKOUT > TIME_EXIT > FAST_DISCARD (spec.md §4.5).
func (c *Closer) evaluate(ctx context.Context, pos domain.Position, now time.Time) (domain.ExitReason, bool) {
	ticker, err := c.latestPrice(ctx, pos.Symbol)
	if err != nil {
		return "", false
	}

	if pos.Direction == domain.Long {
		if ticker <= pos.SLPrice.InexactFloat64() {
			return domain.ExitSLHit, true
		}
		if ticker >= pos.TPPrice.InexactFloat64() {
			return domain.ExitTPHit, true
		}
	} else {
		if ticker >= pos.SLPrice.InexactFloat64() {
			return domain.ExitSLHit, true
		}
		if ticker <= pos.TPPrice.InexactFloat64() {
			return domain.ExitTPHit, true
		}
	}

	if c.blackout != nil && c.blackout.InBlackout(pos.Symbol, now) {
		return domain.ExitNewsBlackout, true
	}

	maxHold := time.Duration(orDefault(c.cfg.MaxHoldMinutes, 10)) * time.Minute
	if now.Sub(pos.OpenedAt) >= maxHold {
		return domain.ExitTimeExit, true
	}

	fastExitWindow := time.Duration(orDefault(c.cfg.FastExitMinutes, 3)) * time.Minute
	if now.Sub(pos.OpenedAt) >= fastExitWindow {
		pnlPct := unrealizedPnLPct(pos, ticker)
		threshold := orDefaultFloat(c.cfg.FastExitThresholdPct, 0.3)
		if pnlPct > -threshold && pnlPct < threshold {
			return domain.ExitFastDiscard, true
		}
	}

	return "", false
}

// closeOne drives BeginClose, places the reduce-only order with retry,
// and FinalizeCloses on success. On repeated order failures it flags
// the position STUCK and alerts the operator rather than retrying
// forever (spec.md §4.5 "otherwise").
func (c *Closer) closeOne(ctx context.Context, pos domain.Position, reason domain.ExitReason) error {
	closeToken, err := c.ledger.BeginClose(ctx, pos.Symbol, reason)
	if err != nil {
		return fmt.Errorf("begin close: %w", err)
	}

	side := exchange.SideSell
	if pos.Direction == domain.Short {
		side = exchange.SideBuy
	}

	attempts := orDefault(c.cfg.CloseRetryAttempts, 3)
	var result exchange.OrderResult
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, exchange.CallDeadline)
		result, lastErr = c.gateway.ClosePosition(callCtx, pos.Symbol, side, pos.Quantity)
		cancel()
		if lastErr == nil {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 300 * time.Millisecond)
	}

	if lastErr != nil {
		cycles := pos.StuckCycles + 1
		if cycles >= orDefault(c.cfg.StuckAfterCycles, 3) {
			if flagErr := c.ledger.FlagStuck(ctx, pos.Symbol, cycles); flagErr != nil {
				c.logger.Printf("flag stuck failed for %s: %v", pos.Symbol, flagErr)
			}
			if c.alert != nil {
				if alertErr := c.alert.NotifyStuck(ctx, pos.Symbol, cycles); alertErr != nil {
					c.logger.Printf("stuck alert failed for %s: %v", pos.Symbol, alertErr)
				}
			}
		} else if flagErr := c.ledger.FlagStuck(ctx, pos.Symbol, cycles); flagErr != nil {
			c.logger.Printf("flag stuck failed for %s: %v", pos.Symbol, flagErr)
		}
		return fmt.Errorf("close order failed after %d attempts: %w", attempts, lastErr)
	}

	realizedPnL := realizedPnL(pos, result.AvgPrice)
	if err := c.ledger.FinalizeClose(ctx, closeToken, result.AvgPrice, realizedPnL); err != nil {
		return fmt.Errorf("finalize close: %w", err)
	}
	if c.obs != nil {
		c.obs.Event("position_closed", map[string]any{
			"symbol": pos.Symbol, "reason": string(reason), "exit_price": result.AvgPrice.String(),
			"realized_pnl": realizedPnL.String(),
		})
	}
	return nil
}

func (c *Closer) latestPrice(ctx context.Context, symbol string) (float64, error) {
	tickers, err := c.market.Tickers(ctx)
	if err != nil {
		return 0, err
	}
	t, ok := tickers[symbol]
	if !ok {
		return 0, fmt.Errorf("no ticker for %s", symbol)
	}
	return t.LastPrice, nil
}

func unrealizedPnLPct(pos domain.Position, price float64) float64 {
	entry := pos.EntryPrice.InexactFloat64()
	if entry == 0 {
		return 0
	}
	if pos.Direction == domain.Long {
		return (price - entry) / entry * 100
	}
	return (entry - price) / entry * 100
}

func realizedPnL(pos domain.Position, exitPrice decimal.Decimal) decimal.Decimal {
	diff := exitPrice.Sub(pos.EntryPrice)
	if pos.Direction == domain.Short {
		diff = pos.EntryPrice.Sub(exitPrice)
	}
	return diff.Mul(pos.Quantity)
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
