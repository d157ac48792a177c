package reliability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrAttemptsExhausted is returned when every attempt failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Policy decides the wait before the next attempt after attempt failed (0-based).
type Policy interface {
	Delay(attempt int) time.Duration
}

// BackoffPolicy waits Initial * Multiplier^attempt, capped at Max, without jitter.
type BackoffPolicy struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// DefaultBackoff waits 1s, 2s, 4s, ... up to 30s.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{Initial: time.Second, Multiplier: 2, Max: 30 * time.Second}
}

func (p BackoffPolicy) Delay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = p.Max
	b.MaxElapsedTime = 0
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = backoff.DefaultMaxInterval
	}
	b.Reset()

	d := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// ImmediatePolicy retries without waiting.
type ImmediatePolicy struct{}

func (ImmediatePolicy) Delay(int) time.Duration { return 0 }

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default context-aware SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryEvent describes a failed attempt that will be retried.
type RetryEvent struct {
	Attempt int
	Class   Class
	Delay   time.Duration
	Err     error
}

// Runner runs an operation up to MaxAttempts times, choosing the wait between
// attempts from the policy registered for the failure's class. Classes without a
// policy retry immediately; ClassPermanent never retries.
type Runner struct {
	MaxAttempts int
	Policies    map[Class]Policy
	Sleep       SleepFunc
	OnRetry     func(RetryEvent)
}

// Run calls op until it succeeds or attempts run out. It never waits after the final attempt.
func (r Runner) Run(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		class := ClassOf(err)
		if class == ClassPermanent {
			return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempt+1, err)
		}
		if attempt == attempts-1 {
			break
		}

		var delay time.Duration
		if p, ok := r.Policies[class]; ok && p != nil {
			delay = p.Delay(attempt)
		}
		if r.OnRetry != nil {
			r.OnRetry(RetryEvent{Attempt: attempt, Class: class, Delay: delay, Err: err})
		}
		if delay > 0 {
			if serr := sleep(ctx, delay); serr != nil {
				return fmt.Errorf("retry wait interrupted: %w: %w", serr, err)
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempts, lastErr)
}
