package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireDisabledLimiter(t *testing.T) {
	l := New(0, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// Any demand is satisfied immediately when both buckets are disabled
	require.NoError(t, l.Acquire(ctx, 1000, 1000000))
}

func TestAcquireWithinCapacity(t *testing.T) {
	l := New(60, 6000)

	start := time.Now()
	require.NoError(t, l.Acquire(context.Background(), 5, 500))
	assert.Less(t, time.Since(start), 40*time.Millisecond)

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.InDelta(t, 55.0, l.req.available, 1.0)
	assert.InDelta(t, 5500.0, l.tok.available, 100.0)
}

func TestAcquireDeductsOnlyEnabledBucket(t *testing.T) {
	l := New(60, 0)

	require.NoError(t, l.Acquire(context.Background(), 10, 99999))

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.InDelta(t, 50.0, l.req.available, 1.0)
}

func TestAcquireBlocksUntilRefill(t *testing.T) {
	l := New(60, 0)
	require.NoError(t, l.Acquire(context.Background(), 60, 0))

	// Bucket is drained; one more request needs ~1s of refill at 1/s
	start := time.Now()
	require.NoError(t, l.Acquire(context.Background(), 1, 0))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 500*time.Millisecond)
}

func TestAcquireHonorsCancellation(t *testing.T) {
	l := New(60, 0)
	require.NoError(t, l.Acquire(context.Background(), 60, 0))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Refilling 60 requests takes a minute; cancellation must win
	err := l.Acquire(ctx, 60, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBucketRefillCapsAtCapacity(t *testing.T) {
	now := time.Now()
	b := newBucket(60, now)
	b.available = 0

	b.refill(now.Add(2 * time.Minute))
	assert.InDelta(t, 60.0, b.available, 0.001)
}
