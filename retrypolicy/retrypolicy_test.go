package retrypolicy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient failure")
var errTerminal = errors.New("terminal failure")

func TestPolicy_Do_SucceedsFirstTry(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_Do_ExhaustsBudget(t *testing.T) {
	calls := 0
	var retryAttempts []int
	p := Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		OnRetry: func(attempt int, err error) {
			retryAttempts = append(retryAttempts, attempt)
		},
	}

	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errTransient
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls, "budget is total attempts, not retries")
	assert.Equal(t, []int{1, 2, 3}, retryAttempts)
}

func TestPolicy_Do_RecoversWithinBudget(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPolicy_Do_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	p := Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, errTerminal) },
	}

	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errTerminal
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errTerminal)
	assert.Equal(t, 1, calls)
}

func TestPolicy_Do_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{MaxAttempts: 100, BaseDelay: 50 * time.Millisecond}

	err := p.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errTransient
	})

	require.Error(t, err)
	assert.LessOrEqual(t, calls, 2)
}

func TestPolicy_Do_ZeroAttemptsMeansOne(t *testing.T) {
	calls := 0
	p := Policy{BaseDelay: time.Millisecond}

	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errTransient
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
