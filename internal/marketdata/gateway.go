// Package marketdata implements C2, the market data gateway: ticker,
// candle, and order book caches with bounded TTLs, amortizing
// cold-start cost across scanner/closer ticks the way the teacher's
// market.DataManager amortizes candle fetches. Unlike the teacher's
// daily-EOD NSE feed, this gateway serves a 24/7 venue at 1m/5m/1h/4h
// granularity (spec.md §4.2).
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ridgeline-systems/perpctl/internal/config"
	"github.com/ridgeline-systems/perpctl/internal/domain"
	"github.com/ridgeline-systems/perpctl/internal/exchange"
	"github.com/ridgeline-systems/perpctl/internal/metrics"
	"github.com/ridgeline-systems/perpctl/internal/retry"
)

// ErrUnavailable is returned when the gateway exhausted its retry
// budget for a symbol; callers must treat the symbol as unscanned for
// the tick rather than substitute stale cache data past its TTL x 3.
var ErrUnavailable = errors.New("marketdata: unavailable")

const (
	map1mCap         = 60
	otherIntervalCap = 50
)

// candleCache holds the cached tail of a candle series for one (symbol,
// interval) pair, merged incrementally on each fetch.
type candleCache struct {
	candles   []domain.Candle
	fetchedAt time.Time
}

// Gateway is C2. Safe for concurrent use by multiple scanner/closer
// workers within one process; caches are per-process and may be
// inconsistent across processes, which spec.md §5 explicitly tolerates
// because freshness is bounded by TTL.
type Gateway struct {
	exchange exchange.Gateway
	cfg      config.GatewayConfig

	mu       sync.Mutex
	tickers  map[string]domain.TickerSnapshot
	tickerAt time.Time
	candles  map[string]*candleCache // key: symbol|interval
	books    map[string]bookEntry

	limiter *tokenBucket
}

type bookEntry struct {
	book      domain.OrderBook
	fetchedAt time.Time
}

// New creates a Gateway over the given exchange.Gateway collaborator.
func New(ex exchange.Gateway, cfg config.GatewayConfig) *Gateway {
	return &Gateway{
		exchange: ex,
		cfg:      cfg,
		tickers:  make(map[string]domain.TickerSnapshot),
		candles:  make(map[string]*candleCache),
		books:    make(map[string]bookEntry),
		limiter:  newTokenBucket(rateLimitCapacity(cfg.RateLimitPerMin)),
	}
}

// rateLimitCapacity serializes outbound requests through a token bucket
// sized to 90% of the venue's published limit (spec.md §4.2).
func rateLimitCapacity(venueLimitPerMin int) int {
	return venueLimitPerMin * 90 / 100
}

// Tickers returns the full {symbol -> ticker} batch, fetching a fresh
// batch if the cache has aged past its TTL (default 30s).
func (g *Gateway) Tickers(ctx context.Context) (map[string]domain.TickerSnapshot, error) {
	g.mu.Lock()
	fresh := time.Since(g.tickerAt) < ttl(g.cfg.TickerTTLSec, 30)
	if fresh {
		snapshot := make(map[string]domain.TickerSnapshot, len(g.tickers))
		for k, v := range g.tickers {
			snapshot[k] = v
		}
		g.mu.Unlock()
		return snapshot, nil
	}
	g.mu.Unlock()

	if !g.limiter.take(ctx, 2*time.Second) {
		metrics.GatewayUnavailable.WithLabelValues("ticker").Inc()
		return nil, fmt.Errorf("%w: tickers", ErrUnavailable)
	}

	var tickers map[string]domain.TickerSnapshot
	err := retry.Do(ctx, retry.GatewayBackoff(), retryable, func() error {
		var err error
		tickers, err = g.exchange.FetchTickers(ctx)
		return err
	})
	if err != nil {
		metrics.GatewayUnavailable.WithLabelValues("ticker").Inc()
		return nil, fmt.Errorf("%w: tickers: %v", ErrUnavailable, err)
	}

	g.mu.Lock()
	g.tickers = tickers
	g.tickerAt = time.Now()
	g.mu.Unlock()

	return tickers, nil
}

// Candles returns the last N candles for (symbol, interval), merging in
// only candles newer than the cached head on each call. N is 60 for 1m,
// 50 for every other interval.
func (g *Gateway) Candles(ctx context.Context, symbol string, interval domain.Interval) ([]domain.Candle, error) {
	n := otherIntervalCap
	if interval == domain.Interval1m {
		n = map1mCap
	}

	key := symbol + "|" + string(interval)

	g.mu.Lock()
	cached := g.candles[key]
	g.mu.Unlock()

	if !g.limiter.take(ctx, 2*time.Second) {
		metrics.GatewayUnavailable.WithLabelValues("candle").Inc()
		return nil, fmt.Errorf("%w: candles(%s,%s)", ErrUnavailable, symbol, interval)
	}

	fetchLimit := n
	if cached != nil && len(cached.candles) > 0 {
		fetchLimit = 5 // only need the newest few to merge incrementally
	}

	var fetched []domain.Candle
	err := retry.Do(ctx, retry.GatewayBackoff(), retryable, func() error {
		var err error
		fetched, err = g.exchange.FetchCandles(ctx, symbol, interval, fetchLimit)
		return err
	})
	if err != nil {
		metrics.GatewayUnavailable.WithLabelValues("candle").Inc()
		return nil, fmt.Errorf("%w: candles(%s,%s): %v", ErrUnavailable, symbol, interval, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	merged := mergeCandles(cached, fetched, n)
	g.candles[key] = &candleCache{candles: merged, fetchedAt: time.Now()}
	out := make([]domain.Candle, len(merged))
	copy(out, merged)
	return out, nil
}

// OrderBook returns the cached depth snapshot for symbol, refetching if
// the cache has aged past its TTL (default 5s).
func (g *Gateway) OrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	g.mu.Lock()
	entry, ok := g.books[symbol]
	fresh := ok && time.Since(entry.fetchedAt) < ttl(g.cfg.OrderBookTTLSec, 5)
	g.mu.Unlock()
	if fresh {
		return entry.book, nil
	}

	if !g.limiter.take(ctx, 2*time.Second) {
		metrics.GatewayUnavailable.WithLabelValues("orderbook").Inc()
		return domain.OrderBook{}, fmt.Errorf("%w: orderbook(%s)", ErrUnavailable, symbol)
	}

	var book domain.OrderBook
	err := retry.Do(ctx, retry.GatewayBackoff(), retryable, func() error {
		var err error
		book, err = g.exchange.FetchOrderBook(ctx, symbol, depth)
		return err
	})
	if err != nil {
		metrics.GatewayUnavailable.WithLabelValues("orderbook").Inc()
		return domain.OrderBook{}, fmt.Errorf("%w: orderbook(%s): %v", ErrUnavailable, symbol, err)
	}

	g.mu.Lock()
	g.books[symbol] = bookEntry{book: book, fetchedAt: time.Now()}
	g.mu.Unlock()
	return book, nil
}

func ttl(seconds, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}

// retryable treats every exchange error as transient-retryable except
// ones the gateway has no business retrying (handled by the exchange
// adapter returning exchange.ErrInvalidSymbol uncorrected); the gateway
// itself only ever sees the RATE_LIMITED/TRANSIENT/UNKNOWN taxonomy
// entries as retryable per spec.md §6.
func retryable(err error) bool {
	return !errors.Is(err, exchange.ErrInvalidSymbol) && !errors.Is(err, exchange.ErrUnauthorized)
}

// mergeCandles appends fetched candles newer than the cached head,
// keeping at most cap entries, preserving ascending OpenTime order.
func mergeCandles(cached *candleCache, fetched []domain.Candle, maxLen int) []domain.Candle {
	var base []domain.Candle
	if cached != nil {
		base = cached.candles
	}

	var cutoff time.Time
	if len(base) > 0 {
		cutoff = base[len(base)-1].OpenTime
	}

	merged := append([]domain.Candle{}, base...)
	for _, c := range fetched {
		if c.OpenTime.After(cutoff) {
			merged = append(merged, c)
		}
	}

	if len(merged) > maxLen {
		merged = merged[len(merged)-maxLen:]
	}
	return merged
}
