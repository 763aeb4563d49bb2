// Package exchange defines the typed exchange-gateway collaborator
// spec.md §6 treats as external to the control plane: order placement
// and market data retrieval with a bounded error taxonomy. Two
// implementations satisfy it: binancefutures (live, over a real
// perpetual futures venue) and paper (simulated fills for LIVE_MODE=false
// and for tests), mirroring the teacher's broker.Broker/broker.PaperBroker
// split.
package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ridgeline-systems/perpctl/internal/domain"
)

// Error taxonomy from spec.md §6.
var (
	ErrRateLimited       = errors.New("exchange: rate limited")
	ErrUnauthorized      = errors.New("exchange: unauthorized")
	ErrInsufficientMargin = errors.New("exchange: insufficient margin")
	ErrInvalidSymbol     = errors.New("exchange: invalid symbol")
	ErrTransient         = errors.New("exchange: transient")
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderStatus is the terminal or in-flight state of a placed order.
type OrderStatus string

const (
	OrderFilled   OrderStatus = "FILLED"
	OrderPartial  OrderStatus = "PARTIALLY_FILLED"
	OrderRejected OrderStatus = "REJECTED"
	OrderPending  OrderStatus = "PENDING"
)

// OrderResult is the response to a placed or closed order.
type OrderResult struct {
	OrderID   string
	FilledQty decimal.Decimal
	AvgPrice  decimal.Decimal
	Status    OrderStatus
}

// Gateway is the exchange collaborator's typed RPC surface (spec.md §6).
type Gateway struct {
	live Client
}

// VenuePosition is one open position as the venue itself reports it,
// used by the startup reconciliation sweep.
type VenuePosition struct {
	Symbol   string
	Side     Side
	Quantity decimal.Decimal
	AvgPrice decimal.Decimal
}

// Client is implemented by both the live and paper adapters.
type Client interface {
	FetchTickers(ctx context.Context) (map[string]domain.TickerSnapshot, error)
	FetchCandles(ctx context.Context, symbol string, interval domain.Interval, limit int) ([]domain.Candle, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, quantity decimal.Decimal, leverage int) (OrderResult, error)
	ClosePosition(ctx context.Context, symbol string, side Side, quantity decimal.Decimal) (OrderResult, error)
	FetchOpenPositions(ctx context.Context) ([]VenuePosition, error)
}

// New wraps a concrete Client as the Gateway surface the rest of the
// control plane depends on, so marketdata and the trading engine never
// import binancefutures or paper directly.
func New(client Client) Gateway {
	return Gateway{live: client}
}

func (g Gateway) FetchTickers(ctx context.Context) (map[string]domain.TickerSnapshot, error) {
	return g.live.FetchTickers(ctx)
}

func (g Gateway) FetchCandles(ctx context.Context, symbol string, interval domain.Interval, limit int) ([]domain.Candle, error) {
	return g.live.FetchCandles(ctx, symbol, interval, limit)
}

func (g Gateway) FetchOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	return g.live.FetchOrderBook(ctx, symbol, depth)
}

func (g Gateway) PlaceMarketOrder(ctx context.Context, symbol string, side Side, quantity decimal.Decimal, leverage int) (OrderResult, error) {
	return g.live.PlaceMarketOrder(ctx, symbol, side, quantity, leverage)
}

func (g Gateway) ClosePosition(ctx context.Context, symbol string, side Side, quantity decimal.Decimal) (OrderResult, error) {
	return g.live.ClosePosition(ctx, symbol, side, quantity)
}

func (g Gateway) FetchOpenPositions(ctx context.Context) ([]VenuePosition, error) {
	return g.live.FetchOpenPositions(ctx)
}

// Deadlines from spec.md §5: every outbound exchange call has a 5s deadline.
const CallDeadline = 5 * time.Second
