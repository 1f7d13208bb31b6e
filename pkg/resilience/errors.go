// Package resilience provides the failure-handling policy layer: a
// per-operation circuit breaker with a named registry, and a retry executor
// with exponential backoff and jitter. Both report to a metrics.Collector.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// TransientError marks a failure as retryable: timeouts, connection
// failures, server overload and rate-limit signals.
type TransientError struct {
	Operation   string
	RateLimited bool
	Err         error
}

func (e *TransientError) Error() string {
	if e.RateLimited {
		return fmt.Sprintf("%s: rate limited: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s: transient: %v", e.Operation, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure as non-retryable: malformed input,
// authentication failure, or anything explicitly tagged permanent.
type PermanentError struct {
	Operation string
	Err       error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: permanent: %v", e.Operation, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// CircuitOpenError is returned when a breaker rejects a call without
// attempting it. It is distinguishable from TransientError so callers can
// apply different backoff at a higher layer.
type CircuitOpenError struct {
	Operation   string
	Failures    int
	LastFailure time.Time
}

func (e *CircuitOpenError) Error() string {
	if e.LastFailure.IsZero() {
		return fmt.Sprintf("circuit breaker %q is open (failures: %d)", e.Operation, e.Failures)
	}
	return fmt.Sprintf("circuit breaker %q is open (failures: %d, last failure: %s ago)",
		e.Operation, e.Failures, time.Since(e.LastFailure).Round(time.Millisecond))
}

// ExhaustedError is returned when every permitted retry attempt failed.
type ExhaustedError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: retries exhausted after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// IsCircuitOpen reports whether err is (or wraps) a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var coe *CircuitOpenError
	return errors.As(err, &coe)
}

// Retryable classifies an error. TransientError, context deadline
// expiration and network timeouts retry; PermanentError, CircuitOpenError
// and anything unclassified do not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}
	if IsCircuitOpen(err) {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
