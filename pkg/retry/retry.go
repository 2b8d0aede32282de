package retry

import (
	"context"
	"strings"
	"time"
)

// Policy configures bounded exponential backoff
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// transientMarkers are matched case-insensitively against the error text.
// Provider SDKs surface rate limits, timeouts, and upstream 5xx as plain
// error strings, so substring matching is the stable contract here.
var transientMarkers = []string{
	"rate limit",
	"429",
	"timeout",
	"timed out",
	"temporarily unavailable",
	"connection reset",
	"connection aborted",
	"502",
	"503",
	"504",
	"5xx",
}

// IsTransient reports whether the error looks like a transient provider
// failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Do runs fn, retrying transient failures under the policy. Non-transient
// errors and exhausted retries propagate unchanged. Backoff sleeps honor
// context cancellation.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for operations that return a value
func DoValue[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	backoff := policy.InitialBackoff
	if backoff < 0 {
		backoff = 0
	}
	maxBackoff := policy.MaxBackoff
	if maxBackoff < 0 {
		maxBackoff = 0
	}
	multiplier := policy.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	var zero T
	attempt := 0
	for {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if attempt >= max(0, policy.MaxRetries) || !IsTransient(err) {
			return zero, err
		}

		sleep := min(backoff, maxBackoff)
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}

		attempt++
		backoff = min(maxBackoff, time.Duration(float64(backoff)*multiplier))
	}
}
