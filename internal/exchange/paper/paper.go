// Package paper implements a simulated exchange.Client for LIVE_MODE=false
// runs and for tests: orders are logged and acknowledged without
// reaching any venue, filled immediately at the last seeded ticker price,
// the same simplification the teacher's broker.PaperBroker makes.
package paper

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ridgeline-systems/perpctl/internal/domain"
	"github.com/ridgeline-systems/perpctl/internal/exchange"
)

// Client is a simulated exchange.Client. Market data is sourced from an
// in-memory feed the test or caller populates directly; there is no
// live venue behind it.
type Client struct {
	mu       sync.Mutex
	tickers  map[string]domain.TickerSnapshot
	candles  map[string][]domain.Candle
	books    map[string]domain.OrderBook
	nextID   int
}

// New creates an empty paper client. Use SetTicker/SetCandles/SetOrderBook
// to seed market data for tests.
func New() *Client {
	return &Client{
		tickers: make(map[string]domain.TickerSnapshot),
		candles: make(map[string][]domain.Candle),
		books:   make(map[string]domain.OrderBook),
	}
}

func (c *Client) SetTicker(t domain.TickerSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickers[t.Symbol] = t
}

func (c *Client) SetCandles(symbol string, interval domain.Interval, candles []domain.Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candles[symbol+"|"+string(interval)] = candles
}

func (c *Client) SetOrderBook(b domain.OrderBook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.books[b.Symbol] = b
}

func (c *Client) FetchTickers(ctx context.Context) (map[string]domain.TickerSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]domain.TickerSnapshot, len(c.tickers))
	for k, v := range c.tickers {
		out[k] = v
	}
	return out, nil
}

func (c *Client) FetchCandles(ctx context.Context, symbol string, interval domain.Interval, limit int) ([]domain.Candle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	series, ok := c.candles[symbol+"|"+string(interval)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", exchange.ErrInvalidSymbol, symbol)
	}
	if len(series) > limit {
		series = series[len(series)-limit:]
	}
	out := make([]domain.Candle, len(series))
	copy(out, series)
	return out, nil
}

func (c *Client) FetchOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	book, ok := c.books[symbol]
	if !ok {
		return domain.OrderBook{}, fmt.Errorf("%w: %s", exchange.ErrInvalidSymbol, symbol)
	}
	return book, nil
}

// PlaceMarketOrder fills immediately at the last known ticker price.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side exchange.Side, quantity decimal.Decimal, leverage int) (exchange.OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ticker, ok := c.tickers[symbol]
	if !ok {
		return exchange.OrderResult{}, fmt.Errorf("%w: %s", exchange.ErrInvalidSymbol, symbol)
	}

	c.nextID++
	return exchange.OrderResult{
		OrderID:   fmt.Sprintf("PAPER-%d", c.nextID),
		FilledQty: quantity,
		AvgPrice:  decimal.NewFromFloat(ticker.LastPrice),
		Status:    exchange.OrderFilled,
	}, nil
}

// ClosePosition fills immediately at the last known ticker price, mirroring
// PlaceMarketOrder's simulation.
func (c *Client) ClosePosition(ctx context.Context, symbol string, side exchange.Side, quantity decimal.Decimal) (exchange.OrderResult, error) {
	return c.PlaceMarketOrder(ctx, symbol, side, quantity, 1)
}

// FetchOpenPositions always returns an empty list: the paper client
// never tracks venue-side position state, since the ledger is the only
// source of truth in paper mode and there is nothing to reconcile
// against.
func (c *Client) FetchOpenPositions(ctx context.Context) ([]exchange.VenuePosition, error) {
	return nil, nil
}
