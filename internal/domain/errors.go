package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrCircuitOpen is returned by resilience wrappers when calls are
// being shed. It is permanent from the caller's point of view: retry
// loops must not spin on it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrKillSwitchActive is returned when the account kill switch halts
// order placement.
var ErrKillSwitchActive = errors.New("kill switch is active")

// ErrOrderNotFound is returned by order stores for unknown ids.
var ErrOrderNotFound = errors.New("order not found")

// AuthError wraps broker authentication failures (signature rejected,
// token refresh failed). Always permanent: retrying with the same
// credentials cannot succeed.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("auth %s: %v", e.Op, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// BrokerError is a structured failure from the broker API.
type BrokerError struct {
	Code      string
	Message   string
	Transient bool
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker error %s: %s", e.Code, e.Message)
}

// TransientError marks an error as safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient classifies an error for retry purposes. Only failures
// on the whitelist are retried: network timeouts, explicit transient
// broker errors and wrapped TransientError values. Auth failures,
// validation failures and open circuits are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
