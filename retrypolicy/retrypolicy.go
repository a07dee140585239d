// Package retrypolicy provides a single, reusable retry policy for network
// operations: exponential backoff with optional jitter and a hard attempt
// budget. Chunk uploads, whole-file uploads and finalize calls all go
// through the same policy so the attempt accounting stays in one place.
package retrypolicy

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total attempt budget, including the first try.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// BaseDelay is the delay after the first failed attempt; it doubles on
	// every subsequent failure.
	BaseDelay time.Duration

	// Jitter is the maximum random offset added to or subtracted from each
	// delay. Zero disables jitter.
	Jitter time.Duration

	// MaxDelay caps the backoff delay. Zero means no cap.
	MaxDelay time.Duration

	// Retryable decides whether an error is worth another attempt.
	// A nil Retryable retries every error.
	Retryable func(error) bool

	// OnRetry is called after every failed retryable attempt, including the
	// one that exhausts the budget. attempt is 1-based.
	OnRetry func(attempt int, err error)
}

// Do runs op until it succeeds, returns a non-retryable error, the attempt
// budget is exhausted, or ctx is cancelled. The returned error is the last
// error produced by op.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}

	var backoff retry.Backoff = retry.NewExponential(base)
	if p.MaxDelay > 0 {
		backoff = retry.WithCappedDuration(p.MaxDelay, backoff)
	}
	if p.Jitter > 0 {
		backoff = retry.WithJitter(p.Jitter, backoff)
	}
	backoff = retry.WithMaxRetries(uint64(attempts-1), backoff)

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		return retry.RetryableError(err)
	})
}
