package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// Backoff configures exponential backoff.
type Backoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter adds up to ±10% random spread to every delay.
	Jitter bool
}

func DefaultBackoff() Backoff {
	return Backoff{
		BaseDelay:  10 * time.Second,
		MaxDelay:   5 * time.Minute,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Delay returns the wait before retry number attempt (0-based):
// BaseDelay * Multiplier^attempt, capped at MaxDelay.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(b.BaseDelay) * math.Pow(mult, float64(attempt))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}

	if b.Jitter {
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(b.BaseDelay)
		}
	}
	return time.Duration(delay)
}

// Do runs op until it succeeds, maxAttempts is reached or ctx is done.
// It returns the last error.
func Do(ctx context.Context, b Backoff, maxAttempts int, what string, op func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == maxAttempts-1 {
			break
		}
		delay := b.Delay(attempt)
		log.Warn().Err(err).
			Str("op", what).
			Int("attempt", attempt+1).
			Int("max_attempts", maxAttempts).
			Dur("retry_in", delay).
			Msg("operation failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
