package ledgershared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Delays:      []time.Duration{time.Second, 3 * time.Second, 9 * time.Second},
		sleep:       func(ctx context.Context, d time.Duration) error { return nil },
	}
}

func retryTransient(err error) bool { return errors.Is(err, errTransient) }

func TestExecuteRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Execute(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	}, retryTransient)
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestExecuteSurfacesLastErrorAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Execute(context.Background(), func() error {
		calls++
		return errTransient
	}, retryTransient)
	require.ErrorIs(t, err, errTransient)
	require.Equal(t, 3, calls)
}

func TestExecuteDoesNotRetryDeterministicErrors(t *testing.T) {
	refused := errors.New("unbalanced entry")
	calls := 0
	err := fastPolicy(3).Execute(context.Background(), func() error {
		calls++
		return refused
	}, retryTransient)
	require.ErrorIs(t, err, refused)
	require.Equal(t, 1, calls, "a deterministic refusal must not be retried")
}

func TestDelayForRepeatsLastScheduleEntry(t *testing.T) {
	p := RetryPolicy{Delays: []time.Duration{time.Second, 3 * time.Second, 9 * time.Second}}
	require.Equal(t, time.Second, p.DelayFor(0))
	require.Equal(t, 3*time.Second, p.DelayFor(1))
	require.Equal(t, 9*time.Second, p.DelayFor(2))
	require.Equal(t, 9*time.Second, p.DelayFor(7))
}

func TestExecuteStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := RetryPolicy{MaxAttempts: 3, Delays: []time.Duration{time.Millisecond}}
	calls := 0
	err := p.Execute(ctx, func() error {
		calls++
		return errTransient
	}, retryTransient)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls, "a cancelled context must stop the backoff between attempts")
}

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	b := NewCircuitBreaker("test", 2, time.Minute)

	require.NoError(t, b.Allow())
	b.MarkFailure()
	require.Equal(t, CircuitClosed, b.State())
	b.MarkFailure()
	require.Equal(t, CircuitOpen, b.State())
	require.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	b := NewCircuitBreaker("test", 1, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.MarkFailure()
	require.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	// Past the recovery timeout a single probe is admitted.
	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	require.Equal(t, CircuitHalfOpen, b.State())

	b.MarkSuccess()
	require.Equal(t, CircuitClosed, b.State())
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	b := NewCircuitBreaker("test", 3, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.MarkFailure()
	b.MarkFailure()
	b.MarkFailure()
	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	b.MarkFailure()
	require.Equal(t, CircuitOpen, b.State(), "a failed half-open probe reopens immediately")
	require.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestExecuteFailsFastWhileCircuitOpen(t *testing.T) {
	p := fastPolicy(3)
	p.Breaker = NewCircuitBreaker("test", 1, time.Minute)

	calls := 0
	err := p.Execute(context.Background(), func() error {
		calls++
		return errTransient
	}, retryTransient)
	require.ErrorIs(t, err, ErrCircuitOpen, "the second attempt hits the opened circuit")
	require.Equal(t, 1, calls)

	err = p.Execute(context.Background(), func() error {
		calls++
		return nil
	}, retryTransient)
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.Equal(t, 1, calls, "an open circuit fails fast without invoking the operation")
}
