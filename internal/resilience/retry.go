package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/hoangvu/vnquant/internal/domain"
)

// RetryPolicy describes exponential backoff with full jitter. The
// delay before attempt n is uniform in [0, min(Base*2^n, MaxDelay)],
// which spreads retry storms from concurrent callers.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the broker adapter defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

// Retry runs fn until it succeeds, a permanent error occurs, attempts
// are exhausted or the context ends. Only errors classified transient
// by domain.IsTransient are retried; everything else returns
// immediately.
func Retry(ctx context.Context, policy RetryPolicy, log zerolog.Logger, op string, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := jitteredDelay(policy, attempt-1)
			log.Debug().
				Str("op", op).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("Retrying after transient failure")

			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: retry aborted: %w", op, ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !domain.IsTransient(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("%s: %d attempts exhausted: %w", op, policy.MaxAttempts, lastErr)
}

// jitteredDelay computes the full-jitter backoff for a zero-based
// attempt index.
func jitteredDelay(policy RetryPolicy, attempt int) time.Duration {
	base := float64(policy.BaseDelay) * math.Pow(2, float64(attempt))
	capped := math.Min(base, float64(policy.MaxDelay))
	return time.Duration(rand.Float64() * capped)
}
