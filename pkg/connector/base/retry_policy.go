package base

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// DefaultMaxAttempts is the attempt bound for queries when a table does not
// configure its own.
const DefaultMaxAttempts = 5

// RetryPolicy defines retry behavior
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// ExecuteWithCondition runs fn until it succeeds, shouldRetry rejects its
// error, or MaxAttempts is reached. The last error is returned unwrapped so
// callers can add their own context.
func (rp *RetryPolicy) ExecuteWithCondition(ctx context.Context, fn func() error, shouldRetry func(error) bool) error {
	var lastErr error

	for attempt := 0; attempt < rp.attempts(); attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !shouldRetry(err) {
			return err
		}

		if attempt == rp.attempts()-1 {
			break
		}

		if err := rp.Wait(ctx, attempt); err != nil {
			return err
		}
	}

	return lastErr
}

// Wait sleeps for the delay following the given zero-based attempt, or
// returns ctx.Err() if ctx is done first.
func (rp *RetryPolicy) Wait(ctx context.Context, attempt int) error {
	delay := rp.calculateDelay(attempt)
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (rp *RetryPolicy) attempts() int {
	if rp.MaxAttempts < 1 {
		return 1
	}
	return rp.MaxAttempts
}

func (rp *RetryPolicy) calculateDelay(attempt int) time.Duration {
	multiplier := rp.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	delay := float64(rp.InitialDelay) * math.Pow(multiplier, float64(attempt))

	if rp.MaxDelay > 0 && delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}

	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		minDelay := delay - delta
		maxDelay := delay + delta

		delay = minDelay + (rand.Float64() * (maxDelay - minDelay)) //nolint:gosec // jitter only
	}

	return time.Duration(delay)
}

// Clone creates a copy of the retry policy
func (rp *RetryPolicy) Clone() *RetryPolicy {
	clone := *rp
	return &clone
}

// WithMaxAttempts returns a new policy with updated max attempts
func (rp *RetryPolicy) WithMaxAttempts(attempts int) *RetryPolicy {
	policy := rp.Clone()
	policy.MaxAttempts = attempts
	return policy
}

// DefaultRetryPolicy is the query retry policy: 5 attempts with jittered
// exponential backoff starting at 500ms.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialDelay:    500 * time.Millisecond,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// ReconnectPolicy is the reconnect retry policy: 5 attempts, a fixed one
// second apart.
func ReconnectPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     time.Second,
		Multiplier:   1,
	}
}

// NoDelayPolicy retries up to attempts times without sleeping.
func NoDelayPolicy(attempts int) *RetryPolicy {
	return &RetryPolicy{MaxAttempts: attempts, Multiplier: 1}
}
