package ledgershared

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without attempting the operation while the
// circuit is open and its recovery timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("ledgershared: circuit breaker is open")

// CircuitState is the breaker's lifecycle: closed (normal), open (failing
// fast), half-open (probing whether the dependency recovered).
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker fails fast once FailureThreshold consecutive failures have
// been recorded, and lets a single probe through after RecoveryTimeout.
type CircuitBreaker struct {
	Name             string
	FailureThreshold int
	RecoveryTimeout  time.Duration

	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time
	now         func() time.Time
}

// NewCircuitBreaker builds a closed breaker. Zero threshold or timeout fall
// back to the defaults (5 failures, 60s recovery).
func NewCircuitBreaker(name string, failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = time.Minute
	}
	return &CircuitBreaker{
		Name:             name,
		FailureThreshold: failureThreshold,
		RecoveryTimeout:  recoveryTimeout,
		state:            CircuitClosed,
		now:              time.Now,
	}
}

// Allow reports whether an attempt may proceed. An open circuit whose
// recovery timeout has elapsed transitions to half-open and admits one
// probe.
func (b *CircuitBreaker) Allow() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen {
		if b.now().Sub(b.lastFailure) < b.RecoveryTimeout {
			return ErrCircuitOpen
		}
		b.state = CircuitHalfOpen
	}
	return nil
}

// MarkSuccess resets the breaker after a successful attempt.
func (b *CircuitBreaker) MarkSuccess() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = CircuitClosed
	b.failures = 0
}

// MarkFailure records a failed attempt; at FailureThreshold the circuit
// opens. A failed half-open probe re-opens immediately.
func (b *CircuitBreaker) MarkFailure() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
	if b.state == CircuitHalfOpen || b.failures >= b.FailureThreshold {
		b.state = CircuitOpen
	}
}

// State returns the breaker's current state.
func (b *CircuitBreaker) State() CircuitState {
	if b == nil {
		return CircuitClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RetryPolicy is the explicit retry/backoff policy the gateway and the
// movement service consume: max attempts, a backoff schedule, an optional
// circuit breaker, and whether a previously recorded failed idempotency
// outcome may be re-executed rather than surfaced.
type RetryPolicy struct {
	// MaxAttempts counts every try including the first.
	MaxAttempts int
	// Delays is the backoff schedule between attempts; the last entry
	// repeats when attempts outnumber entries.
	Delays []time.Duration
	// Breaker, when non-nil, gates every attempt and records transient
	// failures.
	Breaker *CircuitBreaker
	// RetryFailedOutcomes permits re-executing an operation whose
	// idempotency record is in the failed state. Off by default: a
	// recorded failure replays deterministically.
	RetryFailedOutcomes bool

	// sleep is swapped by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy mirrors the stock schedule: three attempts, 1s/3s/9s
// backoff, no breaker, failed outcomes surfaced rather than re-run.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delays:      []time.Duration{time.Second, 3 * time.Second, 9 * time.Second},
	}
}

// DelayFor returns the backoff before attempt+1 (attempt is zero-based).
func (p RetryPolicy) DelayFor(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt >= len(p.Delays) {
		attempt = len(p.Delays) - 1
	}
	return p.Delays[attempt]
}

// Execute runs op up to MaxAttempts times, backing off between attempts.
// Only errors retryable reports true for are retried and recorded on the
// breaker; anything else returns immediately, because domain refusals are
// deterministic and say nothing about the dependency's health.
func (p RetryPolicy) Execute(ctx context.Context, op func() error, retryable func(error) bool) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := p.Breaker.Allow(); err != nil {
			return err
		}
		err := op()
		if err == nil {
			p.Breaker.MarkSuccess()
			return nil
		}
		if retryable == nil || !retryable(err) {
			return err
		}
		p.Breaker.MarkFailure()
		lastErr = err
		if attempt < attempts-1 {
			if err := sleep(ctx, p.DelayFor(attempt)); err != nil {
				return err
			}
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
