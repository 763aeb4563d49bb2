// Package binancefutures adapts github.com/adshao/go-binance/v2/futures
// into an exchange.Client: the live implementation of the out-of-scope
// exchange gateway collaborator (spec.md §6), grounded in the klines,
// order-placement, and retry shape of the pack's own USDⓈ-M futures bot.
package binancefutures

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"github.com/ridgeline-systems/perpctl/internal/domain"
	"github.com/ridgeline-systems/perpctl/internal/exchange"
)

// Client wraps a *futures.Client as an exchange.Client.
type Client struct {
	api *futures.Client
}

// New creates a Client over credentials already configured on api
// (the teacher's convention of constructing venue clients once at
// startup and threading them through, rather than a package-level
// singleton, per spec.md §9's module-level-cache re-architecture note).
func New(api *futures.Client) *Client {
	return &Client{api: api}
}

func normalizeSymbol(symbol string) string {
	symbol = strings.ToUpper(symbol)
	if !strings.HasSuffix(symbol, "USDT") {
		return symbol + "USDT"
	}
	return symbol
}

func intervalString(i domain.Interval) string {
	return string(i)
}

func (c *Client) FetchTickers(ctx context.Context) (map[string]domain.TickerSnapshot, error) {
	prices, err := c.api.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, classify(err)
	}

	out := make(map[string]domain.TickerSnapshot, len(prices))
	for _, p := range prices {
		if !strings.HasSuffix(p.Symbol, "USDT") {
			continue
		}
		last, _ := strconv.ParseFloat(p.LastPrice, 64)
		quoteVol, _ := strconv.ParseFloat(p.QuoteVolume, 64)
		out[p.Symbol] = domain.TickerSnapshot{
			Symbol:         p.Symbol,
			LastPrice:      last,
			Volume24hQuote: quoteVol,
		}
	}
	return out, nil
}

func (c *Client) FetchCandles(ctx context.Context, symbol string, interval domain.Interval, limit int) ([]domain.Candle, error) {
	validSymbol := normalizeSymbol(symbol)

	klines, err := c.api.NewKlinesService().
		Symbol(validSymbol).
		Interval(intervalString(interval)).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, classify(err)
	}

	out := make([]domain.Candle, 0, len(klines))
	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		close, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)
		out = append(out, domain.Candle{
			Symbol:   validSymbol,
			OpenTime: time.UnixMilli(k.OpenTime).UTC(),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    close,
			Volume:   volume,
		})
	}
	return out, nil
}

func (c *Client) FetchOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	validSymbol := normalizeSymbol(symbol)

	res, err := c.api.NewDepthService().Symbol(validSymbol).Limit(depth).Do(ctx)
	if err != nil {
		return domain.OrderBook{}, classify(err)
	}

	book := domain.OrderBook{Symbol: validSymbol}
	for _, b := range res.Bids {
		price, _ := strconv.ParseFloat(b.Price, 64)
		qty, _ := strconv.ParseFloat(b.Quantity, 64)
		book.Bids = append(book.Bids, domain.OrderBookLevel{Price: price, Qty: qty})
	}
	for _, a := range res.Asks {
		price, _ := strconv.ParseFloat(a.Price, 64)
		qty, _ := strconv.ParseFloat(a.Quantity, 64)
		book.Asks = append(book.Asks, domain.OrderBookLevel{Price: price, Qty: qty})
	}
	return book, nil
}

func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side exchange.Side, quantity decimal.Decimal, leverage int) (exchange.OrderResult, error) {
	validSymbol := normalizeSymbol(symbol)

	if _, err := c.api.NewChangeLeverageService().Symbol(validSymbol).Leverage(leverage).Do(ctx); err != nil {
		return exchange.OrderResult{}, classify(err)
	}

	order, err := c.api.NewCreateOrderService().
		Symbol(validSymbol).
		Side(toBinanceSide(side)).
		Type(futures.OrderTypeMarket).
		Quantity(quantity.String()).
		Do(ctx)
	if err != nil {
		return exchange.OrderResult{}, classify(err)
	}

	return toOrderResult(order), nil
}

func (c *Client) ClosePosition(ctx context.Context, symbol string, side exchange.Side, quantity decimal.Decimal) (exchange.OrderResult, error) {
	validSymbol := normalizeSymbol(symbol)

	order, err := c.api.NewCreateOrderService().
		Symbol(validSymbol).
		Side(toBinanceSide(side)).
		Type(futures.OrderTypeMarket).
		Quantity(quantity.String()).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return exchange.OrderResult{}, classify(err)
	}

	return toOrderResult(order), nil
}

// FetchOpenPositions lists every non-zero position risk entry the
// venue reports, for the startup reconciliation sweep.
func (c *Client) FetchOpenPositions(ctx context.Context) ([]exchange.VenuePosition, error) {
	risks, err := c.api.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, classify(err)
	}

	var out []exchange.VenuePosition
	for _, r := range risks {
		amt, _ := decimal.NewFromString(r.PositionAmt)
		if amt.IsZero() {
			continue
		}
		side := exchange.SideBuy
		if amt.IsNegative() {
			side = exchange.SideSell
			amt = amt.Neg()
		}
		avgPrice, _ := decimal.NewFromString(r.EntryPrice)
		out = append(out, exchange.VenuePosition{Symbol: r.Symbol, Side: side, Quantity: amt, AvgPrice: avgPrice})
	}
	return out, nil
}

func toBinanceSide(side exchange.Side) futures.SideType {
	if side == exchange.SideBuy {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

func toOrderResult(order *futures.CreateOrderResponse) exchange.OrderResult {
	filled, _ := decimal.NewFromString(order.ExecutedQuantity)
	avgPrice, _ := decimal.NewFromString(order.AvgPrice)

	status := exchange.OrderPending
	switch order.Status {
	case futures.OrderStatusTypeFilled:
		status = exchange.OrderFilled
	case futures.OrderStatusTypePartiallyFilled:
		status = exchange.OrderPartial
	case futures.OrderStatusTypeRejected, futures.OrderStatusTypeExpired:
		status = exchange.OrderRejected
	}

	return exchange.OrderResult{
		OrderID:   strconv.FormatInt(order.OrderID, 10),
		FilledQty: filled,
		AvgPrice:  avgPrice,
		Status:    status,
	}
}

// classify maps the venue's error strings onto spec.md §6's bounded
// taxonomy, the same "-1121 means invalid symbol" pattern the pack's
// sniper terminal already relies on.
func classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "-1121"):
		return fmt.Errorf("%w: %v", exchange.ErrInvalidSymbol, err)
	case strings.Contains(msg, "-2019") || strings.Contains(msg, "margin"):
		return fmt.Errorf("%w: %v", exchange.ErrInsufficientMargin, err)
	case strings.Contains(msg, "-1003") || strings.Contains(msg, "rate limit"):
		return fmt.Errorf("%w: %v", exchange.ErrRateLimited, err)
	case strings.Contains(msg, "-2015") || strings.Contains(msg, "-1022"):
		return fmt.Errorf("%w: %v", exchange.ErrUnauthorized, err)
	default:
		return fmt.Errorf("%w: %v", exchange.ErrTransient, err)
	}
}
