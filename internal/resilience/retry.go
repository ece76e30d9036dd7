// Package resilience provides a retry helper with exponential backoff and
// jitter. It is used for the ingestor's optional bulk retry policy and the
// cluster health wait — both places where transient engine errors (429/503,
// node still starting) are expected and bounded retries are appropriate.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Policy controls retry behavior. The zero value of any field falls back to
// the package default; MaxAttempts of 1 disables retries entirely.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
	// Multiplier is the exponential growth factor between attempts.
	Multiplier float64
	// JitterFraction randomizes each delay by ±fraction to avoid thundering herds.
	JitterFraction float64
}

// defaultPolicy supplies fallbacks for unset Policy fields.
func defaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// Delay returns the backoff delay to apply after the given attempt number
// (1-based), with Policy defaults filled in. Callers that manage their own
// retry loop (e.g. partial-batch resubmission) use this instead of Retry.
func (p Policy) Delay(attempt int) time.Duration {
	defaults := defaultPolicy()
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaults.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaults.MaxDelay
	}
	if p.Multiplier <= 0 {
		p.Multiplier = defaults.Multiplier
	}
	if p.JitterFraction <= 0 {
		p.JitterFraction = defaults.JitterFraction
	}
	return computeDelay(attempt, p)
}

// Retry runs fn until it succeeds, the attempt budget is exhausted, or the
// context is cancelled. The name labels log entries for the operation.
func Retry(ctx context.Context, name string, p Policy, fn func() error) error {
	defaults := defaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaults.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaults.MaxDelay
	}
	if p.Multiplier <= 0 {
		p.Multiplier = defaults.Multiplier
	}
	if p.JitterFraction <= 0 {
		p.JitterFraction = defaults.JitterFraction
	}

	log := slog.Default().With(slog.String("operation", name))

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				log.Info("succeeded after retry", slog.Int("attempt", attempt))
			}
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("resilience: retry aborted: %w", ctx.Err())
		}

		delay := computeDelay(attempt, p)
		log.Warn("operation failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", p.MaxAttempts),
			slog.Any("error", lastErr),
			slog.Duration("next_delay", delay),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("resilience: retry aborted during backoff: %w", ctx.Err())
		}
	}
	return fmt.Errorf("resilience: all %d attempts failed for %s: %w", p.MaxAttempts, name, lastErr)
}

// computeDelay returns the backoff delay for the given attempt number.
func computeDelay(attempt int, p Policy) time.Duration {
	backoff := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	jitter := backoff * p.JitterFraction * (2*rand.Float64() - 1)
	backoff += jitter
	if backoff > float64(p.MaxDelay) {
		backoff = float64(p.MaxDelay)
	}
	if backoff < 0 {
		backoff = float64(p.InitialDelay)
	}
	return time.Duration(backoff)
}
