package lock

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

const defaultJitterFactor = 0.3

type retrying struct {
	next        Locker
	maxAttempts int
	baseDelay   time.Duration
}

// Retrying wraps a fail-fast Locker so that a held key is retried with
// exponential backoff and jitter before ErrNotAcquired is returned.
// Retry schedule for base 10ms: 0, 10, 20, 40, 80 ms (plus up to 30% jitter).
func Retrying(next Locker, maxAttempts int, baseDelay time.Duration) Locker {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &retrying{next: next, maxAttempts: maxAttempts, baseDelay: baseDelay}
}

func (r *retrying) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := r.baseDelay * time.Duration(1<<(attempt-1))
			jitter := rand.Float64() * float64(delay) * defaultJitterFactor //nolint:gosec // jitter only
			select {
			case <-time.After(delay + time.Duration(jitter)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = r.next.WithLock(ctx, key, fn)
		if !errors.Is(lastErr, ErrNotAcquired) {
			return lastErr
		}
	}

	return lastErr
}
