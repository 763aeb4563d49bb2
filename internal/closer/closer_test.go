package closer

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ridgeline-systems/perpctl/internal/config"
	"github.com/ridgeline-systems/perpctl/internal/domain"
	"github.com/ridgeline-systems/perpctl/internal/exchange"
	"github.com/ridgeline-systems/perpctl/internal/ledger"
	"github.com/ridgeline-systems/perpctl/internal/marketdata"
)

func testLogger() *log.Logger {
	return log.New(os.Stdout, "[closer-test] ", log.LstdFlags)
}

// fakeClient is a minimal exchange.Client stub for closer tests. Only
// the methods closer actually calls are wired to be meaningful; the
// rest satisfy the interface with zero values.
type fakeClient struct {
	ticker      domain.TickerSnapshot
	closeResult exchange.OrderResult
	closeErr    error
}

func (f *fakeClient) FetchTickers(ctx context.Context) (map[string]domain.TickerSnapshot, error) {
	return map[string]domain.TickerSnapshot{f.ticker.Symbol: f.ticker}, nil
}
func (f *fakeClient) FetchCandles(ctx context.Context, symbol string, interval domain.Interval, limit int) ([]domain.Candle, error) {
	return nil, nil
}
func (f *fakeClient) FetchOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	return domain.OrderBook{}, nil
}
func (f *fakeClient) PlaceMarketOrder(ctx context.Context, symbol string, side exchange.Side, quantity decimal.Decimal, leverage int) (exchange.OrderResult, error) {
	return exchange.OrderResult{}, nil
}
func (f *fakeClient) ClosePosition(ctx context.Context, symbol string, side exchange.Side, quantity decimal.Decimal) (exchange.OrderResult, error) {
	return f.closeResult, f.closeErr
}
func (f *fakeClient) FetchOpenPositions(ctx context.Context) ([]exchange.VenuePosition, error) {
	return nil, nil
}

func newTestLedgerWithOpenPosition(t *testing.T, symbol string, entry, sl, tp decimal.Decimal) (*ledger.Ledger, domain.Position) {
	t.Helper()
	riskCfg := config.RiskConfig{MaxOpenTrades: 5, MaxPortfolioRiskPct: 50, DailyLossLimitPct: 10, MaxLossPerTradePct: 2}
	l := ledger.New(ledger.NewMemStore(), riskCfg, decimal.NewFromInt(10000), testLogger(), nil)
	ctx := context.Background()

	outcome, err := l.ReserveSlot(ctx, symbol, decimal.NewFromInt(100), domain.Long, 10, 0.5)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.CommitPosition(ctx, outcome.ReservationID, entry, decimal.NewFromInt(1), tp, sl, 1.0); err != nil {
		t.Fatalf("commit: %v", err)
	}
	open, err := l.ListOpen(ctx)
	if err != nil || len(open) != 1 {
		t.Fatalf("expected 1 open position, err=%v got=%d", err, len(open))
	}
	return l, open[0]
}

func newTestCloser(client *fakeClient, cfg config.CloserConfig, blackout NewsBlackout, alert AlertNotifier) (*Closer, *ledger.Ledger) {
	gw := exchange.New(client)
	market := marketdata.New(gw, config.GatewayConfig{TickerTTLSec: 30, OrderBookTTLSec: 5, RateLimitPerMin: 1200})
	riskCfg := config.RiskConfig{MaxOpenTrades: 5, MaxPortfolioRiskPct: 50, DailyLossLimitPct: 10, MaxLossPerTradePct: 2}
	l := ledger.New(ledger.NewMemStore(), riskCfg, decimal.NewFromInt(10000), testLogger(), nil)
	return New(l, gw, market, cfg, blackout, alert, testLogger(), nil), l
}

func TestEvaluate_LongTriggersStopLoss(t *testing.T) {
	client := &fakeClient{ticker: domain.TickerSnapshot{Symbol: "BTCUSDT", LastPrice: 89}}
	c, l := newTestCloser(client, config.CloserConfig{MaxHoldMinutes: 60, FastExitMinutes: 30}, nil, nil)

	ctx := context.Background()
	outcome, err := l.ReserveSlot(ctx, "BTCUSDT", decimal.NewFromInt(100), domain.Long, 10, 0.5)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.CommitPosition(ctx, outcome.ReservationID, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(110), decimal.NewFromInt(90), 1.0); err != nil {
		t.Fatalf("commit: %v", err)
	}
	open, _ := l.ListOpen(ctx)

	reason, triggered := c.evaluate(ctx, open[0], time.Now().UTC())
	if !triggered {
		t.Fatal("expected SL trigger")
	}
	if reason != domain.ExitSLHit {
		t.Errorf("expected ExitSLHit, got %s", reason)
	}
}

func TestEvaluate_LongTriggersTakeProfit(t *testing.T) {
	client := &fakeClient{ticker: domain.TickerSnapshot{Symbol: "BTCUSDT", LastPrice: 111}}
	c, l := newTestCloser(client, config.CloserConfig{MaxHoldMinutes: 60, FastExitMinutes: 30}, nil, nil)

	ctx := context.Background()
	outcome, _ := l.ReserveSlot(ctx, "BTCUSDT", decimal.NewFromInt(100), domain.Long, 10, 0.5)
	l.CommitPosition(ctx, outcome.ReservationID, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(110), decimal.NewFromInt(90), 1.0)
	open, _ := l.ListOpen(ctx)

	reason, triggered := c.evaluate(ctx, open[0], time.Now().UTC())
	if !triggered || reason != domain.ExitTPHit {
		t.Fatalf("expected ExitTPHit, got reason=%s triggered=%v", reason, triggered)
	}
}

func TestEvaluate_TimeExitAfterMaxHold(t *testing.T) {
	client := &fakeClient{ticker: domain.TickerSnapshot{Symbol: "BTCUSDT", LastPrice: 100}}
	c, l := newTestCloser(client, config.CloserConfig{MaxHoldMinutes: 10, FastExitMinutes: 60}, nil, nil)

	ctx := context.Background()
	outcome, _ := l.ReserveSlot(ctx, "BTCUSDT", decimal.NewFromInt(100), domain.Long, 10, 0.5)
	l.CommitPosition(ctx, outcome.ReservationID, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(110), decimal.NewFromInt(90), 1.0)
	open, _ := l.ListOpen(ctx)

	reason, triggered := c.evaluate(ctx, open[0], open[0].OpenedAt.Add(15*time.Minute))
	if !triggered || reason != domain.ExitTimeExit {
		t.Fatalf("expected ExitTimeExit, got reason=%s triggered=%v", reason, triggered)
	}
}

func TestEvaluate_NewsBlackoutTakesPriorityOverTimeExit(t *testing.T) {
	client := &fakeClient{ticker: domain.TickerSnapshot{Symbol: "BTCUSDT", LastPrice: 100}}
	cfg := config.CloserConfig{MaxHoldMinutes: 10, FastExitMinutes: 60}
	always := blackoutAlways{}
	c, l := newTestCloser(client, cfg, always, nil)

	ctx := context.Background()
	outcome, _ := l.ReserveSlot(ctx, "BTCUSDT", decimal.NewFromInt(100), domain.Long, 10, 0.5)
	l.CommitPosition(ctx, outcome.ReservationID, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(110), decimal.NewFromInt(90), 1.0)
	open, _ := l.ListOpen(ctx)

	reason, triggered := c.evaluate(ctx, open[0], open[0].OpenedAt.Add(15*time.Minute))
	if !triggered || reason != domain.ExitNewsBlackout {
		t.Fatalf("expected ExitNewsBlackout, got reason=%s triggered=%v", reason, triggered)
	}
}

type blackoutAlways struct{}

func (blackoutAlways) InBlackout(symbol string, now time.Time) bool { return true }

func TestEvaluate_NoTriggerWhenFlat(t *testing.T) {
	client := &fakeClient{ticker: domain.TickerSnapshot{Symbol: "BTCUSDT", LastPrice: 101}}
	c, l := newTestCloser(client, config.CloserConfig{MaxHoldMinutes: 60, FastExitMinutes: 30}, nil, nil)

	ctx := context.Background()
	outcome, _ := l.ReserveSlot(ctx, "BTCUSDT", decimal.NewFromInt(100), domain.Long, 10, 0.5)
	l.CommitPosition(ctx, outcome.ReservationID, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(110), decimal.NewFromInt(90), 1.0)
	open, _ := l.ListOpen(ctx)

	_, triggered := c.evaluate(ctx, open[0], time.Now().UTC())
	if triggered {
		t.Error("expected no trigger on a flat, fresh position")
	}
}

func TestCloseOne_SuccessFinalizesPosition(t *testing.T) {
	client := &fakeClient{
		ticker:      domain.TickerSnapshot{Symbol: "BTCUSDT", LastPrice: 89},
		closeResult: exchange.OrderResult{OrderID: "1", AvgPrice: decimal.NewFromInt(90), Status: exchange.OrderFilled},
	}
	c, l := newTestCloser(client, config.CloserConfig{CloseRetryAttempts: 1}, nil, nil)

	ctx := context.Background()
	outcome, _ := l.ReserveSlot(ctx, "BTCUSDT", decimal.NewFromInt(100), domain.Long, 10, 0.5)
	l.CommitPosition(ctx, outcome.ReservationID, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(110), decimal.NewFromInt(90), 1.0)
	open, _ := l.ListOpen(ctx)

	if err := c.closeOne(ctx, open[0], domain.ExitSLHit); err != nil {
		t.Fatalf("closeOne: %v", err)
	}
	remaining, err := l.ListOpen(ctx)
	if err != nil || len(remaining) != 0 {
		t.Fatalf("expected position closed, err=%v got=%d remaining", err, len(remaining))
	}
}

type stuckAlert struct {
	called bool
}

func (s *stuckAlert) NotifyStuck(ctx context.Context, symbol string, cycles int) error {
	s.called = true
	return nil
}

func TestCloseOne_RepeatedFailureFlagsStuckAndAlerts(t *testing.T) {
	client := &fakeClient{
		ticker:   domain.TickerSnapshot{Symbol: "BTCUSDT", LastPrice: 89},
		closeErr: context.DeadlineExceeded,
	}
	alert := &stuckAlert{}
	c, l := newTestCloser(client, config.CloserConfig{CloseRetryAttempts: 1, StuckAfterCycles: 1}, nil, alert)

	ctx := context.Background()
	outcome, _ := l.ReserveSlot(ctx, "BTCUSDT", decimal.NewFromInt(100), domain.Long, 10, 0.5)
	l.CommitPosition(ctx, outcome.ReservationID, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(110), decimal.NewFromInt(90), 1.0)
	open, _ := l.ListOpen(ctx)

	if err := c.closeOne(ctx, open[0], domain.ExitSLHit); err == nil {
		t.Fatal("expected error from failing close order")
	}
	if !alert.called {
		t.Error("expected stuck alert to fire after exhausting retries")
	}

	remaining, err := l.ListOpen(ctx)
	if err != nil || len(remaining) != 1 {
		t.Fatalf("expected position still open (stuck), err=%v got=%d", err, len(remaining))
	}
	if remaining[0].StuckCycles != 1 {
		t.Errorf("expected stuck cycles 1, got %d", remaining[0].StuckCycles)
	}
}

func TestStaticBlackout_InsideWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := NewStaticBlackout(map[string][]Window{
		"BTCUSDT": {{Start: now.Add(-time.Hour), End: now.Add(time.Hour)}},
	})
	if !b.InBlackout("BTCUSDT", now) {
		t.Error("expected InBlackout true within window")
	}
	if b.InBlackout("ETHUSDT", now) {
		t.Error("expected InBlackout false for symbol with no windows")
	}
}

func TestStaticBlackout_OutsideWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := NewStaticBlackout(map[string][]Window{
		"BTCUSDT": {{Start: now.Add(-2 * time.Hour), End: now.Add(-time.Hour)}},
	})
	if b.InBlackout("BTCUSDT", now) {
		t.Error("expected InBlackout false outside window")
	}
}
