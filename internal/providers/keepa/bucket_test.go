package keepa

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketStartsFull(t *testing.T) {
	b := NewTokenBucket(200, 21)
	tokens, refill := b.Balance()
	assert.InDelta(t, 200, tokens, 0.1)
	assert.InDelta(t, 21, refill, 1e-9)
}

func TestBucketWaitImmediate(t *testing.T) {
	b := NewTokenBucket(10, 21)
	require.NoError(t, b.Wait(context.Background(), 4))
	tokens, _ := b.Balance()
	assert.InDelta(t, 6, tokens, 0.1)
}

func TestBucketWaitBlocksUntilRefill(t *testing.T) {
	b := NewTokenBucket(10, 60) // one token per second
	now := time.Now()
	b.now = func() time.Time { return now }
	b.lastRefill = now
	b.tokens = 0

	var slept time.Duration
	b.sleep = func(_ context.Context, d time.Duration) error {
		slept += d
		now = now.Add(d)
		return nil
	}

	require.NoError(t, b.Wait(context.Background(), 5))
	assert.InDelta(t, 5.0, slept.Seconds(), 0.2)

	tokens, _ := b.Balance()
	assert.InDelta(t, 0, tokens, 0.1)
}

func TestBucketWaitCancelled(t *testing.T) {
	b := NewTokenBucket(10, 21)
	b.tokens = 0

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Wait(ctx, 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBucketSync(t *testing.T) {
	b := NewTokenBucket(10, 21)

	// Remote balance above local capacity stays capped.
	b.Sync(500, 30)
	tokens, refill := b.Balance()
	assert.InDelta(t, 10, tokens, 0.1)
	assert.InDelta(t, 30, refill, 1e-9)

	// Negative remote balance floors at zero; a zero rate is ignored.
	b.Sync(-7, 0)
	tokens, refill = b.Balance()
	assert.InDelta(t, 0, tokens, 0.1)
	assert.InDelta(t, 30, refill, 1e-9)

	b.Sync(4, 12)
	tokens, refill = b.Balance()
	assert.InDelta(t, 4, tokens, 0.1)
	assert.InDelta(t, 12, refill, 1e-9)
}
