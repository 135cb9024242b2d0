// Package resilience contains the failure-handling fabric shared by
// the broker adapter and the HTTP surface: a circuit breaker, a
// jittered retry policy and a tiered per-client rate limiter.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hoangvu/vnquant/internal/domain"
)

// CircuitState is the breaker's current mode.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// CircuitBreaker sheds calls to a failing dependency. Consecutive
// failures reaching the threshold open the circuit; after the
// recovery timeout a single probe is let through. The probe's result
// decides between closing and re-opening.
//
// State transitions use the monotonic clock carried by time.Time, so
// wall-clock adjustments cannot re-open or stick the breaker.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration

	mu           sync.Mutex
	state        CircuitState
	failures     int
	openedAt     time.Time
	probeInFlight bool
	log          zerolog.Logger
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, failureThreshold int, recoveryTimeout time.Duration, log zerolog.Logger) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            CircuitClosed,
		log:              log.With().Str("component", "circuit_breaker").Str("name", name).Logger(),
	}
}

// Name returns the breaker's name for status reporting.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state, promoting OPEN to HALF_OPEN when
// the recovery timeout has elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state
}

// Execute runs fn behind the breaker. When the circuit is open the
// call is rejected immediately with domain.ErrCircuitOpen. In
// HALF_OPEN only one probe runs at a time; concurrent callers are
// rejected until the probe settles.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.settle(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpen()

	switch cb.state {
	case CircuitOpen:
		return domain.ErrCircuitOpen
	case CircuitHalfOpen:
		if cb.probeInFlight {
			return domain.ErrCircuitOpen
		}
		cb.probeInFlight = true
	}
	return nil
}

func (cb *CircuitBreaker) settle(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasProbe := cb.probeInFlight
	cb.probeInFlight = false

	if err == nil {
		if cb.state != CircuitClosed {
			cb.log.Info().Str("from", string(cb.state)).Msg("Circuit closed after successful probe")
		}
		cb.state = CircuitClosed
		cb.failures = 0
		return
	}

	if wasProbe && cb.state == CircuitHalfOpen {
		// Failed probe re-opens and restarts the recovery clock.
		cb.state = CircuitOpen
		cb.openedAt = time.Now()
		cb.log.Warn().Err(err).Msg("Probe failed, circuit re-opened")
		return
	}

	cb.failures++
	if cb.state == CircuitClosed && cb.failures >= cb.failureThreshold {
		cb.state = CircuitOpen
		cb.openedAt = time.Now()
		cb.log.Warn().Int("failures", cb.failures).Msg("Failure threshold reached, circuit opened")
	}
}

// maybeHalfOpen promotes OPEN to HALF_OPEN once the timeout elapses.
// Caller holds the mutex.
func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state == CircuitOpen && time.Since(cb.openedAt) >= cb.recoveryTimeout {
		cb.state = CircuitHalfOpen
		cb.log.Info().Msg("Recovery timeout elapsed, circuit half-open")
	}
}
