package marketdata

import (
	"context"
	"sync"
	"time"
)

// tokenBucket serializes outbound gateway requests to a fraction of the
// venue's published rate limit (spec.md §4.2). Refills one token per
// tick at a rate derived from the configured per-minute capacity.
type tokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	refillAt time.Time
	perSec   float64
}

func newTokenBucket(perMinute int) *tokenBucket {
	if perMinute <= 0 {
		perMinute = 1000
	}
	return &tokenBucket{
		tokens:   float64(perMinute),
		capacity: float64(perMinute),
		refillAt: time.Now(),
		perSec:   float64(perMinute) / 60.0,
	}
}

// take blocks until a token is available or wait is exhausted, returning
// false if no token became available in time (caller should treat the
// request as UNAVAILABLE per spec.md §4.2).
func (b *tokenBucket) take(ctx context.Context, wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	for {
		if b.tryTake() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (b *tokenBucket) tryTake() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.refillAt).Seconds()
	b.tokens += elapsed * b.perSec
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.refillAt = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}
