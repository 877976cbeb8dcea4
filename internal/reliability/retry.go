package reliability

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy retries an operation with exponential backoff:
// delay = min(BaseDelay * Factor^attempt, MaxDelay).
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Factor     float64
}

// DefaultRetryPolicy matches the REST fetch defaults: 3 retries, 1s base,
// factor 2, capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
		Factor:     2,
	}
}

// Delay computes the backoff delay for the given zero-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// Do runs fn up to MaxRetries+1 times, sleeping between attempts and
// honouring context cancellation. The last error is returned when every
// attempt fails.
func (p RetryPolicy) Do(ctx context.Context, op string, log zerolog.Logger, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt == p.MaxRetries {
			break
		}

		delay := p.Delay(attempt)
		log.Warn().
			Err(lastErr).
			Str("operation", op).
			Int("attempt", attempt+1).
			Int("max_retries", p.MaxRetries).
			Dur("delay", delay).
			Msg("Retrying after failure")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	log.Error().
		Err(lastErr).
		Str("operation", op).
		Int("attempts", p.MaxRetries+1).
		Msg("Retry attempts exhausted")
	return lastErr
}
