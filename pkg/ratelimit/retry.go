package ratelimit

import (
	"context"
	"math/rand"
	"time"

	"github.com/liliang-cn/cognify/pkg/domain"
	"github.com/liliang-cn/cognify/pkg/log"
)

// Policy describes an exponential backoff with full jitter.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy matches the provider retry contract: base 1s, cap 60s,
// five attempts.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 60 * time.Second}
}

// Do runs fn, retrying transient failures with backoff. A rate-limit
// retry-after hint overrides the computed delay (zero means immediate).
// Permanent errors and cancellation return at once. Retries reports how many
// retries were spent.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, int, error) {
	var zero T
	var lastErr error
	retries := 0

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, retries, domain.ErrCancelled
		}

		out, err := fn(ctx)
		if err == nil {
			return out, retries, nil
		}
		lastErr = err

		if domain.Cancelled(err) {
			return zero, retries, err
		}
		if !domain.Retryable(err) {
			return zero, retries, err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := backoff(p, attempt)
		if hint, ok := domain.RetryAfterHint(err); ok {
			delay = hint
		}
		retries++
		log.Debugf("retrying after %v (attempt %d/%d): %v", delay, attempt+1, p.MaxAttempts, err)

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, retries, domain.ErrCancelled
			case <-timer.C:
			}
		}
	}
	return zero, retries, lastErr
}

func backoff(p Policy, attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	// Full jitter keeps concurrent workers from synchronizing.
	return time.Duration(rand.Int63n(int64(d) + 1))
}
