package keepa

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is the local pacing model for the remote token economy.
// Two numbers stay distinct on purpose: Capacity is how much this
// process may hold locally; refillPerMinute is the remote's refill
// rate, learned from every response. Syncing from responses keeps
// local accounting from drifting away from remote truth.
type TokenBucket struct {
	mu sync.Mutex

	capacity        float64
	tokens          float64
	refillPerMinute float64
	lastRefill      time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewTokenBucket starts full at the given local capacity.
func NewTokenBucket(capacity int, refillPerMinute float64) *TokenBucket {
	if capacity <= 0 {
		capacity = 200
	}
	if refillPerMinute <= 0 {
		refillPerMinute = 21
	}
	return &TokenBucket{
		capacity:        float64(capacity),
		tokens:          float64(capacity),
		refillPerMinute: refillPerMinute,
		lastRefill:      time.Now(),
		now:             time.Now,
		sleep:           sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (b *TokenBucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Minutes()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillPerMinute
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.lastRefill = now
}

// Wait blocks until the balance covers cost, sleeping in refill-derived
// increments. Returns the context error if cancelled first.
func (b *TokenBucket) Wait(ctx context.Context, cost int) error {
	for {
		b.mu.Lock()
		b.refillLocked()
		if b.tokens >= float64(cost) {
			b.tokens -= float64(cost)
			b.mu.Unlock()
			return nil
		}
		deficit := float64(cost) - b.tokens
		rate := b.refillPerMinute
		b.mu.Unlock()

		wait := time.Duration(deficit / rate * float64(time.Minute))
		if wait < 100*time.Millisecond {
			wait = 100 * time.Millisecond
		}
		if err := b.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Sync adopts the remote's authoritative balance and refill rate. The
// balance is capped at local capacity; the local bucket may be more
// conservative than the remote, never less.
func (b *TokenBucket) Sync(tokensLeft int, refillPerMinute float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens = float64(tokensLeft)
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	if b.tokens < 0 {
		b.tokens = 0
	}
	if refillPerMinute > 0 {
		b.refillPerMinute = refillPerMinute
	}
	b.lastRefill = b.now()
}

// Balance reports the current token count and refill rate.
func (b *TokenBucket) Balance() (tokens float64, refillPerMinute float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens, b.refillPerMinute
}
