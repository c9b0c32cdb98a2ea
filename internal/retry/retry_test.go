package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestDo_NoRetry(t *testing.T) {
	calls := 0
	out := do(context.Background(), NoRetry, 0, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("boom")
	}, noSleep)

	assert.False(t, out.Delivered)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 1, calls)
}

func TestDo_BackoffRetry_SucceedsOnSecondAttempt(t *testing.T) {
	calls := 0
	out := do(context.Background(), BackoffRetry, 0, func(ctx context.Context, attempt int) error {
		calls++
		if attempt == 1 {
			return nil
		}
		return errors.New("transient")
	}, noSleep)

	require.True(t, out.Delivered)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 2, calls)
}

func TestDo_BackoffRetry_ExhaustsFourAttempts(t *testing.T) {
	calls := 0
	out := do(context.Background(), BackoffRetry, 0, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("down")
	}, noSleep)

	assert.False(t, out.Delivered)
	assert.Equal(t, 4, out.Attempts)
	assert.Equal(t, 4, calls)
	assert.EqualError(t, out.LastErr, "down")
}

func TestDo_ExponentialDecay_RespectsMaxRetries(t *testing.T) {
	calls := 0
	out := do(context.Background(), ExponentialDecay, 5, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("down")
	}, noSleep)

	assert.False(t, out.Delivered)
	assert.Equal(t, 6, out.Attempts)
	assert.Equal(t, 6, calls)
}

func TestDo_ExponentialDecay_ZeroFallsBackToOneAttempt(t *testing.T) {
	calls := 0
	out := do(context.Background(), ExponentialDecay, 0, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("down")
	}, noSleep)

	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 1, calls)
}

func TestDo_ExponentialDecay_SleepCapped(t *testing.T) {
	var slept []time.Duration
	capture := func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	out := do(context.Background(), ExponentialDecay, 12, func(ctx context.Context, attempt int) error {
		return errors.New("down")
	}, capture)

	assert.Equal(t, 13, out.Attempts)
	require.Len(t, slept, 12)
	assert.Equal(t, 512*time.Second, slept[len(slept)-1])
}

func TestDo_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := do(ctx, BackoffRetry, 0, func(ctx context.Context, attempt int) error {
		return errors.New("down")
	}, ctxSleep)

	assert.False(t, out.Delivered)
	assert.ErrorIs(t, out.LastErr, context.Canceled)
	assert.Equal(t, 1, out.Attempts)
}
