package ledger

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ridgeline-systems/perpctl/internal/config"
	"github.com/ridgeline-systems/perpctl/internal/domain"
)

func testLogger() *log.Logger {
	return log.New(os.Stdout, "[ledger-test] ", log.LstdFlags)
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxOpenTrades:       3,
		MaxPortfolioRiskPct: 20,
		DailyLossLimitPct:   5,
		MaxLossPerTradePct:  2,
		LiquidityCapPct:     0.5,
	}
}

func newTestLedger() *Ledger {
	return New(NewMemStore(), testRiskConfig(), decimal.NewFromInt(10000), testLogger(), nil)
}

func TestReserveSlot_Succeeds(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	outcome, err := l.ReserveSlot(ctx, "BTCUSDT", decimal.NewFromInt(100), domain.Long, 80, 0.5)
	if err != nil {
		t.Fatalf("ReserveSlot: %v", err)
	}
	if outcome.ReservationID == "" {
		t.Error("expected a non-empty reservation id")
	}
	if outcome.LeverageGranted <= 0 {
		t.Error("expected positive leverage granted")
	}
}

func TestReserveSlot_RejectsDuplicateSymbol(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	if _, err := l.ReserveSlot(ctx, "BTCUSDT", decimal.NewFromInt(100), domain.Long, 80, 0.5); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	_, err := l.ReserveSlot(ctx, "BTCUSDT", decimal.NewFromInt(100), domain.Long, 80, 0.5)
	if !errors.Is(err, ErrDuplicateSymbol) {
		t.Fatalf("expected ErrDuplicateSymbol, got %v", err)
	}
}

func TestReserveSlot_RejectsOverMaxOpenTrades(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	for _, s := range symbols {
		if _, err := l.ReserveSlot(ctx, s, decimal.NewFromInt(10), domain.Long, 80, 0.5); err != nil {
			t.Fatalf("reserve %s: %v", s, err)
		}
	}

	_, err := l.ReserveSlot(ctx, "BNBUSDT", decimal.NewFromInt(10), domain.Long, 80, 0.5)
	if !errors.Is(err, ErrNoCapacity) {
		t.Fatalf("expected ErrNoCapacity at max_open_trades, got %v", err)
	}
}

func TestReserveSlot_RejectsOverPortfolioRiskCap(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	// capital=10000, max_portfolio_risk_pct=20 => cap is 2000.
	_, err := l.ReserveSlot(ctx, "BTCUSDT", decimal.NewFromInt(2500), domain.Long, 80, 0.5)
	if !errors.Is(err, ErrNoCapacity) {
		t.Fatalf("expected ErrNoCapacity over portfolio risk cap, got %v", err)
	}
}

func TestReserveSlot_BlockedByCircuitBreaker(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	outcome, err := l.ReserveSlot(ctx, "BTCUSDT", decimal.NewFromInt(100), domain.Long, 80, 0.5)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.CommitPosition(ctx, outcome.ReservationID, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(110), decimal.NewFromInt(90), 1.0); err != nil {
		t.Fatalf("commit: %v", err)
	}
	pos, err := l.ListOpen(ctx)
	if err != nil || len(pos) != 1 {
		t.Fatalf("expected 1 open position, err=%v got=%d", err, len(pos))
	}

	closeToken, err := l.BeginClose(ctx, "BTCUSDT", domain.ExitSLHit)
	if err != nil {
		t.Fatalf("begin close: %v", err)
	}
	// A loss exceeding daily_loss_limit_pct (5% of 10000 = 500).
	if err := l.FinalizeClose(ctx, closeToken, decimal.NewFromInt(90), decimal.NewFromInt(-600)); err != nil {
		t.Fatalf("finalize close: %v", err)
	}

	_, err = l.ReserveSlot(ctx, "ETHUSDT", decimal.NewFromInt(10), domain.Long, 80, 0.5)
	if !errors.Is(err, ErrCircuitBreaker) {
		t.Fatalf("expected ErrCircuitBreaker after breaching daily loss limit, got %v", err)
	}
}

func TestCommitPosition_Idempotent(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	outcome, err := l.ReserveSlot(ctx, "BTCUSDT", decimal.NewFromInt(100), domain.Long, 80, 0.5)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := l.CommitPosition(ctx, outcome.ReservationID, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(110), decimal.NewFromInt(90), 1.0); err != nil {
			t.Fatalf("commit attempt %d: %v", i, err)
		}
	}
}

func TestCommitPosition_UnknownReservation(t *testing.T) {
	l := newTestLedger()
	err := l.CommitPosition(context.Background(), "bogus-id", decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, 1.0)
	if !errors.Is(err, ErrUnknownReservation) {
		t.Fatalf("expected ErrUnknownReservation, got %v", err)
	}
}

func TestRollbackReservation_ReleasesRiskAndSlot(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	outcome, err := l.ReserveSlot(ctx, "BTCUSDT", decimal.NewFromInt(100), domain.Long, 80, 0.5)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.RollbackReservation(ctx, outcome.ReservationID); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	// The symbol should now be free for a new reservation.
	if _, err := l.ReserveSlot(ctx, "BTCUSDT", decimal.NewFromInt(100), domain.Long, 80, 0.5); err != nil {
		t.Fatalf("re-reserve after rollback: %v", err)
	}
}

func TestRollbackReservation_IdempotentOnUnknownID(t *testing.T) {
	l := newTestLedger()
	if err := l.RollbackReservation(context.Background(), "never-existed"); err != nil {
		t.Fatalf("expected no-op success, got %v", err)
	}
}

func TestBeginClose_RejectsNonOpenPosition(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	outcome, err := l.ReserveSlot(ctx, "BTCUSDT", decimal.NewFromInt(100), domain.Long, 80, 0.5)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	_ = outcome

	// Still RESERVED, not OPEN.
	_, err = l.BeginClose(ctx, "BTCUSDT", domain.ExitSLHit)
	if !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
}

func TestBeginClose_RejectsDoubleClose(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	outcome, err := l.ReserveSlot(ctx, "BTCUSDT", decimal.NewFromInt(100), domain.Long, 80, 0.5)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.CommitPosition(ctx, outcome.ReservationID, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(110), decimal.NewFromInt(90), 1.0); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := l.BeginClose(ctx, "BTCUSDT", domain.ExitSLHit); err != nil {
		t.Fatalf("first begin close: %v", err)
	}
	if _, err := l.BeginClose(ctx, "BTCUSDT", domain.ExitSLHit); !errors.Is(err, ErrAlreadyClosing) {
		t.Fatalf("expected ErrAlreadyClosing, got %v", err)
	}
}

func TestFinalizeClose_UnknownToken(t *testing.T) {
	l := newTestLedger()
	err := l.FinalizeClose(context.Background(), "bogus-token", decimal.Zero, decimal.Zero)
	if !errors.Is(err, ErrUnknownCloseToken) {
		t.Fatalf("expected ErrUnknownCloseToken, got %v", err)
	}
}

func TestFinalizeClose_RemovesPositionAndUpdatesDailyPnL(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	outcome, err := l.ReserveSlot(ctx, "BTCUSDT", decimal.NewFromInt(100), domain.Long, 80, 0.5)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.CommitPosition(ctx, outcome.ReservationID, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(110), decimal.NewFromInt(90), 1.0); err != nil {
		t.Fatalf("commit: %v", err)
	}
	closeToken, err := l.BeginClose(ctx, "BTCUSDT", domain.ExitTPHit)
	if err != nil {
		t.Fatalf("begin close: %v", err)
	}
	if err := l.FinalizeClose(ctx, closeToken, decimal.NewFromInt(110), decimal.NewFromInt(10)); err != nil {
		t.Fatalf("finalize close: %v", err)
	}

	open, err := l.ListOpen(ctx)
	if err != nil || len(open) != 0 {
		t.Fatalf("expected 0 open positions after close, err=%v got=%d", err, len(open))
	}

	risk, err := l.RiskSnapshot(ctx)
	if err != nil {
		t.Fatalf("risk snapshot: %v", err)
	}
	if !risk.DailyPnL.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected daily pnl 10, got %s", risk.DailyPnL)
	}
	if !risk.TotalReservedRisk.IsZero() {
		t.Errorf("expected reserved risk released to zero, got %s", risk.TotalReservedRisk)
	}
}

func TestFlagStuck_SetsStuckCycles(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	outcome, err := l.ReserveSlot(ctx, "BTCUSDT", decimal.NewFromInt(100), domain.Long, 80, 0.5)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.CommitPosition(ctx, outcome.ReservationID, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(110), decimal.NewFromInt(90), 1.0); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := l.FlagStuck(ctx, "BTCUSDT", 4); err != nil {
		t.Fatalf("flag stuck: %v", err)
	}

	open, err := l.ListOpen(ctx)
	if err != nil || len(open) != 1 {
		t.Fatalf("expected 1 open position, err=%v got=%d", err, len(open))
	}
	if open[0].StuckCycles != 4 {
		t.Errorf("expected stuck cycles 4, got %d", open[0].StuckCycles)
	}
}

func TestFlagStuck_UnknownSymbolIsNoOp(t *testing.T) {
	l := newTestLedger()
	if err := l.FlagStuck(context.Background(), "NOSUCH", 2); err != nil {
		t.Fatalf("expected no-op success, got %v", err)
	}
}
