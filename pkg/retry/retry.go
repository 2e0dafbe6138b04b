// Package retry is an explicit retry combinator over exponential
// backoff. Callers pass a policy and an operation; the final outcome is
// returned to the caller rather than hidden in a decorator.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes a bounded exponential backoff schedule.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts uint64

	// InitialInterval is the delay before the second attempt.
	InitialInterval time.Duration

	// MaxInterval caps the delay between attempts.
	MaxInterval time.Duration

	// Multiplier grows the delay between attempts. Zero means 2.
	Multiplier float64

	// Jitter is the randomization factor applied to each delay.
	// The default is none, which keeps schedules deterministic.
	Jitter float64

	// Clock overrides the backoff clock. Nil means the system clock.
	Clock backoff.Clock
}

// LLMPolicy is the schedule used for LLM calls: three attempts at
// roughly 1, 2, 4 seconds.
func LLMPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     4 * time.Second,
		Multiplier:      2,
	}
}

// Permanent marks an error as non-retryable; Do returns it immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op under the policy until it succeeds, exhausts its attempts,
// returns a permanent error, or the context is cancelled.
func Do(ctx context.Context, p Policy, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval
	bo.RandomizationFactor = p.Jitter
	bo.MaxElapsedTime = 0

	if p.Multiplier > 0 {
		bo.Multiplier = p.Multiplier
	}

	if p.Clock != nil {
		bo.Clock = p.Clock
	}

	bo.Reset()

	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	var schedule backoff.BackOff = backoff.WithMaxRetries(bo, attempts-1)
	schedule = backoff.WithContext(schedule, ctx)

	err := backoff.Retry(op, schedule)
	if err != nil {
		return fmt.Errorf("retry: %w", err)
	}

	return nil
}
