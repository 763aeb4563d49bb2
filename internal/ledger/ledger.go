// Package ledger implements C1, the risk ledger: the authoritative,
// conditionally-written record of open positions and aggregate risk.
// Every mutation is expressed as a conditional write against the
// current snapshot; on conflict the operation retries with fresh state
// (bounded: 3 attempts, exponential backoff 50-400 ms), exactly as
// spec.md §4.1 prescribes. No in-process locking substitutes for this —
// multiple engine/closer processes may call the same Ledger methods
// concurrently against separate processes sharing one Store.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ridgeline-systems/perpctl/internal/config"
	"github.com/ridgeline-systems/perpctl/internal/domain"
	"github.com/ridgeline-systems/perpctl/internal/metrics"
	"github.com/ridgeline-systems/perpctl/internal/obslog"
	"github.com/ridgeline-systems/perpctl/internal/retry"
	"github.com/ridgeline-systems/perpctl/internal/tradingday"
)

// Ledger is C1. It owns exclusive mutation rights over domain.Position
// and domain.RiskAccumulator; every other component reads positions it
// addresses but mutates only through this type's methods.
type Ledger struct {
	store    Store
	config   config.RiskConfig
	capital  decimal.Decimal
	logger   *log.Logger
	obs      *obslog.Logger
}

// New creates a Ledger over the given Store.
func New(store Store, riskCfg config.RiskConfig, capital decimal.Decimal, logger *log.Logger, obs *obslog.Logger) *Ledger {
	if logger == nil {
		logger = log.New(log.Writer(), "[ledger] ", log.LstdFlags)
	}
	return &Ledger{store: store, config: riskCfg, capital: capital, logger: logger, obs: obs}
}

// UpdateRiskConfig replaces the risk configuration atomically, used by
// config hot-reload the same way the teacher's risk.Manager does.
func (l *Ledger) UpdateRiskConfig(cfg config.RiskConfig) {
	l.config = cfg
}

// ReservationOutcome is returned by ReserveSlot on success.
type ReservationOutcome struct {
	ReservationID   string
	LeverageGranted int
	MarginGranted   decimal.Decimal
}

// ReserveSlot implements reserve_slot: atomically verifies I1-I4,
// increments reserved risk, and inserts a tentative position in state
// RESERVED. requestedMargin is the margin the trading engine computed
// for its chosen leverage tier; leverage_granted is echoed from the
// same score-to-leverage table the engine used (domain.LeverageForScore),
// so the two never disagree. atr is recorded on the reservation itself
// (ahead of CommitPosition, which also records it) so that a stale
// RESERVED row can still have its TP/SL recomputed if the reconciliation
// sweep has to promote it without ever seeing a commit.
func (l *Ledger) ReserveSlot(ctx context.Context, symbol string, requestedMargin decimal.Decimal, direction domain.Direction, score int, atr float64) (ReservationOutcome, error) {
	var outcome ReservationOutcome

	err := l.withRetry(ctx, func(snap Snapshot, version int64) (Snapshot, error) {
		if tradingday.HasRolledOver(snap.Accumulator.CurrentUTCDate, time.Now()) {
			snap = rollover(snap, time.Now())
		}

		if snap.Accumulator.DailyLossBreachAt != nil {
			return Snapshot{}, ErrCircuitBreaker
		}

		if existing, ok := snap.Positions[symbol]; ok &&
			(existing.Status == domain.StatusReserved || existing.Status == domain.StatusOpen || existing.Status == domain.StatusClosing) {
			return Snapshot{}, ErrDuplicateSymbol
		}

		openCount := 0
		for _, p := range snap.Positions {
			if p.Status == domain.StatusReserved || p.Status == domain.StatusOpen {
				openCount++
			}
		}
		if openCount >= l.config.MaxOpenTrades {
			return Snapshot{}, ErrNoCapacity
		}

		maxRisk := l.capital.Mul(decimal.NewFromFloat(l.config.MaxPortfolioRiskPct / 100.0))
		if snap.Accumulator.TotalReservedRisk.Add(requestedMargin).GreaterThan(maxRisk) {
			return Snapshot{}, ErrNoCapacity
		}

		leverage := domain.LeverageForScore(score)
		reservationID := uuid.NewString()

		next := snap.clone()
		next.Accumulator.TotalReservedRisk = next.Accumulator.TotalReservedRisk.Add(requestedMargin)
		if next.Accumulator.ActivePositions == nil {
			next.Accumulator.ActivePositions = make(map[string]string)
		}
		next.Accumulator.ActivePositions[symbol] = reservationID
		next.Positions[symbol] = domain.Position{
			ReservationID:   reservationID,
			Symbol:          symbol,
			Direction:       direction,
			Leverage:        leverage,
			MarginCommitted: requestedMargin,
			ScoreAtEntry:    score,
			ATRAtEntry:      atr,
			Status:          domain.StatusReserved,
			OpenedAt:        time.Now().UTC(),
			UpdatedAt:       time.Now().UTC(),
		}

		outcome = ReservationOutcome{ReservationID: reservationID, LeverageGranted: leverage, MarginGranted: requestedMargin}
		return next, nil
	})

	l.recordReservationMetric(err)
	if l.obs != nil {
		l.obs.Event("reservation_outcome", map[string]any{
			"symbol": symbol, "direction": string(direction), "score": score,
			"error": errString(err),
		})
	}
	if err != nil {
		return ReservationOutcome{}, err
	}
	return outcome, nil
}

// CommitPosition implements commit_position: RESERVED -> OPEN, idempotent
// on retry with the same reservation_id (P5).
func (l *Ledger) CommitPosition(ctx context.Context, reservationID string, entryPrice, quantity, tpPrice, slPrice decimal.Decimal, atr float64) error {
	return l.withRetry(ctx, func(snap Snapshot, version int64) (Snapshot, error) {
		symbol, pos, ok := findByReservation(snap, reservationID)
		if !ok {
			return Snapshot{}, ErrUnknownReservation
		}
		if pos.Status == domain.StatusOpen {
			// Idempotent: same reservation already committed.
			return snap, nil
		}
		if pos.Status != domain.StatusReserved {
			return Snapshot{}, ErrAlreadyCommitted
		}

		pos.Status = domain.StatusOpen
		pos.EntryPrice = entryPrice
		pos.Quantity = quantity
		pos.TPPrice = tpPrice
		pos.SLPrice = slPrice
		pos.ATRAtEntry = atr
		pos.UpdatedAt = time.Now().UTC()

		next := snap.clone()
		next.Positions[symbol] = pos
		return next, nil
	}).report()
}

// RollbackReservation implements rollback_reservation: removes the
// reservation and decrements reserved risk. Idempotent.
func (l *Ledger) RollbackReservation(ctx context.Context, reservationID string) error {
	return l.withRetry(ctx, func(snap Snapshot, version int64) (Snapshot, error) {
		symbol, pos, ok := findByReservation(snap, reservationID)
		if !ok {
			return snap, nil // already rolled back or never existed: idempotent no-op
		}
		if pos.Status != domain.StatusReserved {
			return snap, nil
		}

		next := snap.clone()
		next.Accumulator.TotalReservedRisk = next.Accumulator.TotalReservedRisk.Sub(pos.MarginCommitted)
		if next.Accumulator.TotalReservedRisk.IsNegative() {
			next.Accumulator.TotalReservedRisk = decimal.Zero
		}
		delete(next.Accumulator.ActivePositions, symbol)
		delete(next.Positions, symbol)
		return next, nil
	}).report()
}

// ListOpen implements list_open: read-only, may return data stale by up
// to one replication round-trip.
func (l *Ledger) ListOpen(ctx context.Context) ([]domain.Position, error) {
	return l.store.ListOpen(ctx)
}

// RiskSnapshot returns the current risk accumulator for read-only
// consumers such as the status dashboard. It never mutates state.
func (l *Ledger) RiskSnapshot(ctx context.Context) (domain.RiskAccumulator, error) {
	snap, _, err := l.store.Load(ctx)
	if err != nil {
		return domain.RiskAccumulator{}, fmt.Errorf("ledger: risk snapshot: %w", err)
	}
	return snap.Accumulator, nil
}

// ListReserved returns every position still in state RESERVED. Unlike
// ListOpen (OPEN/CLOSING only), this reads the full snapshot the same
// way RiskSnapshot does, since Store.ListOpen's contract deliberately
// excludes RESERVED rows. Used by the startup reconciliation sweep to
// find reservations stranded by a crash between the venue fill and
// commit_position (spec.md §7). It never mutates state.
func (l *Ledger) ListReserved(ctx context.Context) ([]domain.Position, error) {
	snap, _, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: list reserved: %w", err)
	}
	var reserved []domain.Position
	for _, pos := range snap.Positions {
		if pos.Status == domain.StatusReserved {
			reserved = append(reserved, pos)
		}
	}
	return reserved, nil
}

// BeginClose implements begin_close: OPEN -> CLOSING, ensuring Closer
// workers cannot double-submit exits for the same symbol (P1, S4).
func (l *Ledger) BeginClose(ctx context.Context, symbol string, reason domain.ExitReason) (string, error) {
	var closeToken string
	err := l.withRetry(ctx, func(snap Snapshot, version int64) (Snapshot, error) {
		pos, ok := snap.Positions[symbol]
		if !ok || pos.Status != domain.StatusOpen {
			if ok && pos.Status == domain.StatusClosing {
				return Snapshot{}, ErrAlreadyClosing
			}
			return Snapshot{}, ErrNotOpen
		}

		closeToken = uuid.NewString()
		pos.Status = domain.StatusClosing
		pos.CloseToken = closeToken
		pos.ExitReason = &reason
		pos.UpdatedAt = time.Now().UTC()

		next := snap.clone()
		next.Positions[symbol] = pos
		return next, nil
	})
	if l.obs != nil {
		l.obs.Event("exit_trigger", map[string]any{"symbol": symbol, "reason": string(reason), "error": errString(err)})
	}
	if err != nil {
		return "", err
	}
	return closeToken, nil
}

// FinalizeClose implements finalize_close: CLOSING -> CLOSED; decrements
// reserved_risk; updates daily_pnl; appends the history record.
func (l *Ledger) FinalizeClose(ctx context.Context, closeToken string, exitPrice, realizedPnL decimal.Decimal) error {
	var finished domain.Position
	var dailyPnL decimal.Decimal
	err := l.withRetry(ctx, func(snap Snapshot, version int64) (Snapshot, error) {
		symbol, pos, ok := findByCloseToken(snap, closeToken)
		if !ok {
			return Snapshot{}, ErrUnknownCloseToken
		}

		if tradingday.HasRolledOver(snap.Accumulator.CurrentUTCDate, time.Now()) {
			snap = rollover(snap, time.Now())
		}

		now := time.Now().UTC()
		pos.Status = domain.StatusClosed
		pos.ExitPrice = &exitPrice
		pos.RealizedPnL = &realizedPnL
		pos.ClosedAt = &now
		pos.UpdatedAt = now
		finished = pos

		next := snap.clone()
		next.Accumulator.TotalReservedRisk = next.Accumulator.TotalReservedRisk.Sub(pos.MarginCommitted)
		if next.Accumulator.TotalReservedRisk.IsNegative() {
			next.Accumulator.TotalReservedRisk = decimal.Zero
		}
		next.Accumulator.DailyPnL = next.Accumulator.DailyPnL.Add(realizedPnL)
		dailyPnL = next.Accumulator.DailyPnL
		if l.config.DailyLossLimitPct > 0 {
			lossLimit := l.capital.Mul(decimal.NewFromFloat(l.config.DailyLossLimitPct / 100.0))
			if next.Accumulator.DailyPnL.LessThanOrEqual(lossLimit.Neg()) && next.Accumulator.DailyLossBreachAt == nil {
				breachTime := now
				next.Accumulator.DailyLossBreachAt = &breachTime
			}
		}
		delete(next.Accumulator.ActivePositions, symbol)
		delete(next.Positions, symbol)
		return next, nil
	})
	if err != nil {
		return err
	}

	metrics.PositionsClosed.WithLabelValues(string(valueOr(finished.ExitReason, ""))).Inc()
	metrics.DailyPnL.Set(dailyPnL.InexactFloat64())
	if l.obs != nil {
		l.obs.Event("close_outcome", map[string]any{
			"symbol": finished.Symbol, "exit_reason": string(valueOr(finished.ExitReason, "")),
			"realized_pnl": realizedPnL.String(),
		})
	}
	return l.store.AppendHistory(ctx, HistoryRecord{Position: finished, WrittenAt: time.Now().UTC()})
}

// FlagStuck records cycles as the StuckCycles count of symbol's position
// after repeated close failures (spec.md §7 supplemental primitive); an
// unknown symbol is a no-op. It raises no alert itself: the closer does
// that once the count reaches its threshold.
func (l *Ledger) FlagStuck(ctx context.Context, symbol string, cycles int) error {
	return l.withRetry(ctx, func(snap Snapshot, version int64) (Snapshot, error) {
		pos, ok := snap.Positions[symbol]
		if !ok {
			return snap, nil
		}
		pos.StuckCycles = cycles
		pos.UpdatedAt = time.Now().UTC()
		next := snap.clone()
		next.Positions[symbol] = pos
		return next, nil
	}).report()
}

// DailyRollover implements daily_rollover: if now's UTC date exceeds the
// accumulator's date, resets daily_pnl and clears daily_loss_breach_at.
func (l *Ledger) DailyRollover(ctx context.Context, now time.Time) error {
	return l.withRetry(ctx, func(snap Snapshot, version int64) (Snapshot, error) {
		if !tradingday.HasRolledOver(snap.Accumulator.CurrentUTCDate, now) {
			return snap, nil
		}
		next := rollover(snap.clone(), now)
		return next, nil
	}).report()
}

func rollover(snap Snapshot, now time.Time) Snapshot {
	next := snap.clone()
	next.Accumulator.DailyPnL = decimal.Zero
	next.Accumulator.DailyLossBreachAt = nil
	next.Accumulator.CurrentUTCDate = tradingday.Date(now)
	metrics.CircuitBreakerTripped.Set(0)
	return next
}

// ────────────────────────────────────────────────────────────────────
// Internal
// ────────────────────────────────────────────────────────────────────

type mutateFn func(snap Snapshot, version int64) (Snapshot, error)

type opResult struct{ err error }

func (o opResult) report() error { return o.err }

// withRetry implements the reserve/commit/rollback/close conditional
// write loop shared by every ledger operation: load, apply fn, attempt
// to save; on a store conflict, retry with fresh state up to the
// ledger's backoff schedule before surfacing ErrContended.
func (l *Ledger) withRetry(ctx context.Context, fn mutateFn) opResult {
	var lastErr error
	retryErr := retry.Do(ctx, retry.LedgerBackoff(), func(err error) bool {
		return errors.Is(err, errConflict)
	}, func() error {
		snap, version, err := l.store.Load(ctx)
		if err != nil {
			lastErr = fmt.Errorf("ledger: load: %w", err)
			return nil // not retryable via the conflict predicate
		}

		next, err := fn(snap, version)
		if err != nil {
			lastErr = err
			return nil
		}

		if _, err := l.store.Save(ctx, version, next); err != nil {
			if errors.Is(err, errConflict) {
				return errConflict
			}
			lastErr = fmt.Errorf("ledger: save: %w", err)
			return nil
		}
		lastErr = nil
		return nil
	})

	if retryErr != nil && errors.Is(retryErr, errConflict) {
		return opResult{err: ErrContended}
	}
	return opResult{err: lastErr}
}

func (l *Ledger) recordReservationMetric(err error) {
	switch {
	case err == nil:
		metrics.ReservationOutcomes.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrNoCapacity):
		metrics.ReservationOutcomes.WithLabelValues("no_capacity").Inc()
	case errors.Is(err, ErrDuplicateSymbol):
		metrics.ReservationOutcomes.WithLabelValues("duplicate_symbol").Inc()
	case errors.Is(err, ErrCircuitBreaker):
		metrics.ReservationOutcomes.WithLabelValues("circuit_breaker").Inc()
		metrics.CircuitBreakerTripped.Set(1)
	case errors.Is(err, ErrContended):
		metrics.ReservationOutcomes.WithLabelValues("contended").Inc()
	default:
		metrics.ReservationOutcomes.WithLabelValues("error").Inc()
	}
}

func findByReservation(snap Snapshot, reservationID string) (string, domain.Position, bool) {
	for symbol, pos := range snap.Positions {
		if pos.ReservationID == reservationID {
			return symbol, pos, true
		}
	}
	return "", domain.Position{}, false
}

func findByCloseToken(snap Snapshot, token string) (string, domain.Position, bool) {
	for symbol, pos := range snap.Positions {
		if pos.CloseToken == token {
			return symbol, pos, true
		}
	}
	return "", domain.Position{}, false
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func valueOr(r *domain.ExitReason, fallback domain.ExitReason) domain.ExitReason {
	if r == nil {
		return fallback
	}
	return *r
}

func mustFloat(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	f, _ := strconv.ParseFloat(d.String(), 64)
	return f
}
