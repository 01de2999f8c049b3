package base

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyDelays(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.RandomizeFactor = 0

	assert.Equal(t, 500*time.Millisecond, policy.calculateDelay(0))
	assert.Equal(t, time.Second, policy.calculateDelay(1))
	assert.Equal(t, 2*time.Second, policy.calculateDelay(2))
	assert.Equal(t, 30*time.Second, policy.calculateDelay(10))
}

func TestReconnectPolicyIsFixed(t *testing.T) {
	policy := ReconnectPolicy()

	assert.Equal(t, 5, policy.MaxAttempts)
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		assert.Equal(t, time.Second, policy.calculateDelay(attempt))
	}
}

func TestRetryPolicyJitterBounds(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.InitialDelay = time.Second

	for i := 0; i < 50; i++ {
		delay := policy.calculateDelay(0)
		assert.GreaterOrEqual(t, delay, 750*time.Millisecond)
		assert.LessOrEqual(t, delay, 1250*time.Millisecond)
	}
}

func TestExecuteWithCondition(t *testing.T) {
	transient := errors.New("transient")
	permanent := errors.New("permanent")
	retryable := func(err error) bool { return errors.Is(err, transient) }

	t.Run("succeeds after retries", func(t *testing.T) {
		calls := 0
		err := NoDelayPolicy(3).ExecuteWithCondition(context.Background(), func() error {
			calls++
			if calls < 3 {
				return transient
			}
			return nil
		}, retryable)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns last error unwrapped", func(t *testing.T) {
		calls := 0
		err := NoDelayPolicy(2).ExecuteWithCondition(context.Background(), func() error {
			calls++
			return transient
		}, retryable)
		assert.Same(t, transient, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("stops on non-retryable", func(t *testing.T) {
		calls := 0
		err := NoDelayPolicy(5).ExecuteWithCondition(context.Background(), func() error {
			calls++
			return permanent
		}, retryable)
		assert.Same(t, permanent, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("zero attempts still runs once", func(t *testing.T) {
		calls := 0
		_ = NoDelayPolicy(0).ExecuteWithCondition(context.Background(), func() error {
			calls++
			return transient
		}, retryable)
		assert.Equal(t, 1, calls)
	})
}

func TestRetryPolicyWaitHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := (&RetryPolicy{MaxAttempts: 2, InitialDelay: time.Hour}).Wait(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
