package reconcile

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ridgeline-systems/perpctl/internal/config"
	"github.com/ridgeline-systems/perpctl/internal/domain"
	"github.com/ridgeline-systems/perpctl/internal/exchange"
	"github.com/ridgeline-systems/perpctl/internal/ledger"
)

type fakeVenueClient struct {
	positions []exchange.VenuePosition
}

func (f *fakeVenueClient) FetchTickers(ctx context.Context) (map[string]domain.TickerSnapshot, error) {
	return nil, nil
}
func (f *fakeVenueClient) FetchCandles(ctx context.Context, symbol string, interval domain.Interval, limit int) ([]domain.Candle, error) {
	return nil, nil
}
func (f *fakeVenueClient) FetchOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	return domain.OrderBook{}, nil
}
func (f *fakeVenueClient) PlaceMarketOrder(ctx context.Context, symbol string, side exchange.Side, quantity decimal.Decimal, leverage int) (exchange.OrderResult, error) {
	return exchange.OrderResult{}, nil
}
func (f *fakeVenueClient) ClosePosition(ctx context.Context, symbol string, side exchange.Side, quantity decimal.Decimal) (exchange.OrderResult, error) {
	return exchange.OrderResult{}, nil
}
func (f *fakeVenueClient) FetchOpenPositions(ctx context.Context) ([]exchange.VenuePosition, error) {
	return f.positions, nil
}

func newTestLedgerWithOpen(t *testing.T, symbol string) *ledger.Ledger {
	t.Helper()
	riskCfg := config.RiskConfig{MaxOpenTrades: 5, MaxPortfolioRiskPct: 50, DailyLossLimitPct: 10, MaxLossPerTradePct: 2}
	l := ledger.New(ledger.NewMemStore(), riskCfg, decimal.NewFromInt(10000), nil, nil)
	ctx := context.Background()
	outcome, err := l.ReserveSlot(ctx, symbol, decimal.NewFromInt(100), domain.Long, 10, 0.5)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.CommitPosition(ctx, outcome.ReservationID, decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(110), decimal.NewFromInt(90), 1.0); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return l
}

func TestSweep_ConfirmsMatchingPosition(t *testing.T) {
	l := newTestLedgerWithOpen(t, "BTCUSDT")
	client := &fakeVenueClient{positions: []exchange.VenuePosition{{Symbol: "BTCUSDT", Side: exchange.SideBuy, Quantity: decimal.NewFromInt(1)}}}
	gw := exchange.New(client)

	report, err := Sweep(context.Background(), l, gw, config.EngineConfig{TPMult: 2.0, SLMult: 1.0}, nil)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Checked != 1 || len(report.Confirmed) != 1 || report.Confirmed[0] != "BTCUSDT" {
		t.Fatalf("expected BTCUSDT confirmed, got %+v", report)
	}
	if len(report.MissingAtVenue) != 0 || len(report.OrphanedAtVenue) != 0 {
		t.Fatalf("expected no discrepancies, got %+v", report)
	}
}

func TestSweep_FlagsMissingAtVenue(t *testing.T) {
	l := newTestLedgerWithOpen(t, "BTCUSDT")
	client := &fakeVenueClient{}
	gw := exchange.New(client)

	report, err := Sweep(context.Background(), l, gw, config.EngineConfig{TPMult: 2.0, SLMult: 1.0}, nil)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(report.MissingAtVenue) != 1 || report.MissingAtVenue[0] != "BTCUSDT" {
		t.Fatalf("expected BTCUSDT missing at venue, got %+v", report)
	}
}

func TestSweep_PromotesConfirmedReservation(t *testing.T) {
	riskCfg := config.RiskConfig{MaxOpenTrades: 5, MaxPortfolioRiskPct: 50, DailyLossLimitPct: 10, MaxLossPerTradePct: 2}
	l := ledger.New(ledger.NewMemStore(), riskCfg, decimal.NewFromInt(10000), nil, nil)
	ctx := context.Background()
	if _, err := l.ReserveSlot(ctx, "BTCUSDT", decimal.NewFromInt(100), domain.Long, 80, 1.0); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	client := &fakeVenueClient{positions: []exchange.VenuePosition{
		{Symbol: "BTCUSDT", Side: exchange.SideBuy, Quantity: decimal.NewFromInt(1), AvgPrice: decimal.NewFromInt(100)},
	}}
	gw := exchange.New(client)

	report, err := Sweep(ctx, l, gw, config.EngineConfig{TPMult: 2.0, SLMult: 1.0}, nil)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(report.Promoted) != 1 || report.Promoted[0] != "BTCUSDT" {
		t.Fatalf("expected BTCUSDT promoted, got %+v", report)
	}

	open, err := l.ListOpen(ctx)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 1 || open[0].Status != domain.StatusOpen {
		t.Fatalf("expected promoted reservation to be OPEN, got %+v", open)
	}
}

func TestSweep_RollsBackStrandedReservation(t *testing.T) {
	riskCfg := config.RiskConfig{MaxOpenTrades: 5, MaxPortfolioRiskPct: 50, DailyLossLimitPct: 10, MaxLossPerTradePct: 2}
	l := ledger.New(ledger.NewMemStore(), riskCfg, decimal.NewFromInt(10000), nil, nil)
	ctx := context.Background()
	if _, err := l.ReserveSlot(ctx, "BTCUSDT", decimal.NewFromInt(100), domain.Long, 80, 1.0); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	client := &fakeVenueClient{}
	gw := exchange.New(client)

	report, err := Sweep(ctx, l, gw, config.EngineConfig{TPMult: 2.0, SLMult: 1.0}, nil)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(report.RolledBack) != 1 || report.RolledBack[0] != "BTCUSDT" {
		t.Fatalf("expected BTCUSDT rolled back, got %+v", report)
	}

	reserved, err := l.ListReserved(ctx)
	if err != nil {
		t.Fatalf("list reserved: %v", err)
	}
	if len(reserved) != 0 {
		t.Fatalf("expected no reservations left after rollback, got %+v", reserved)
	}
}

func TestSweep_FlagsOrphanedAtVenue(t *testing.T) {
	riskCfg := config.RiskConfig{MaxOpenTrades: 5, MaxPortfolioRiskPct: 50, DailyLossLimitPct: 10, MaxLossPerTradePct: 2}
	l := ledger.New(ledger.NewMemStore(), riskCfg, decimal.NewFromInt(10000), nil, nil)
	client := &fakeVenueClient{positions: []exchange.VenuePosition{{Symbol: "ETHUSDT", Side: exchange.SideBuy, Quantity: decimal.NewFromInt(1)}}}
	gw := exchange.New(client)

	report, err := Sweep(context.Background(), l, gw, config.EngineConfig{TPMult: 2.0, SLMult: 1.0}, nil)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(report.OrphanedAtVenue) != 1 || report.OrphanedAtVenue[0] != "ETHUSDT" {
		t.Fatalf("expected ETHUSDT orphaned at venue, got %+v", report)
	}
}
