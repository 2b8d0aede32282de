package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	minWait = 50 * time.Millisecond
	maxWait = 5 * time.Second
)

// bucket is a continuously refilling token bucket. Capacity 0 disables it.
type bucket struct {
	capacity   float64
	refillPerS float64
	available  float64
	lastRefill time.Time
}

func newBucket(capacity float64, now time.Time) bucket {
	refill := 0.0
	if capacity > 0 {
		refill = capacity / 60.0
	}
	return bucket{
		capacity:   capacity,
		refillPerS: refill,
		available:  capacity,
		lastRefill: now,
	}
}

func (b *bucket) refill(now time.Time) {
	if b.refillPerS <= 0 {
		b.available = b.capacity
		b.lastRefill = now
		return
	}
	dt := now.Sub(b.lastRefill).Seconds()
	if dt < 0 {
		dt = 0
	}
	b.available = min(b.capacity, b.available+dt*b.refillPerS)
	b.lastRefill = now
}

// Limiter enforces a dual per-minute budget: requests and tokens. Both
// buckets start full and refill continuously at capacity/60 per second.
type Limiter struct {
	mu  sync.Mutex
	req bucket
	tok bucket

	// now is swappable for tests
	now func() time.Time
}

// New creates a limiter with requests-per-minute and tokens-per-minute
// capacities. A capacity of zero disables that bucket.
func New(rpm, tpm int) *Limiter {
	now := time.Now()
	l := &Limiter{now: time.Now}
	l.req = newBucket(float64(max(0, rpm)), now)
	l.tok = newBucket(float64(max(0, tpm)), now)
	return l
}

// Acquire blocks until both buckets can satisfy the request, then deducts
// atomically. A disabled bucket is always satisfied and never deducted.
// Returns early with the context's error on cancellation.
func (l *Limiter) Acquire(ctx context.Context, requests, tokens int) error {
	if l.req.capacity <= 0 && l.tok.capacity <= 0 {
		return nil
	}

	reqNeed := float64(max(0, requests))
	tokNeed := float64(max(0, tokens))

	for {
		l.mu.Lock()
		now := l.now()
		l.req.refill(now)
		l.tok.refill(now)

		reqOK := l.req.capacity <= 0 || l.req.available >= reqNeed
		tokOK := l.tok.capacity <= 0 || l.tok.available >= tokNeed
		if reqOK && tokOK {
			if l.req.capacity > 0 {
				l.req.available -= reqNeed
			}
			if l.tok.capacity > 0 {
				l.tok.available -= tokNeed
			}
			l.mu.Unlock()
			return nil
		}

		wait := minWait
		if l.req.capacity > 0 && !reqOK && l.req.refillPerS > 0 {
			wait = max(wait, secondsToDuration((reqNeed-l.req.available)/l.req.refillPerS))
		}
		if l.tok.capacity > 0 && !tokOK && l.tok.refillPerS > 0 {
			wait = max(wait, secondsToDuration((tokNeed-l.tok.available)/l.tok.refillPerS))
		}
		l.mu.Unlock()

		// Sleep in bounded increments and re-check so a large deficit
		// still observes cancellation promptly.
		if wait > maxWait {
			wait = maxWait
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
