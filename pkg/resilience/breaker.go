package resilience

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/metrics"
)

// State is a circuit breaker state.
type State int

const (
	// StateClosed allows calls through; failures are counted.
	StateClosed State = iota
	// StateOpen rejects calls until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen permits exactly one trial call.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// BreakerConfig controls state transitions for one breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before a trial call
	// is permitted.
	RecoveryTimeout time.Duration
	// SuccessThreshold is the number of successful trials required to close
	// a half-open circuit. Defaults to 1.
	SuccessThreshold int
}

// DefaultBreakerConfig matches the upstream client defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 1,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	return c
}

// BreakerStats is a read-only view of one breaker's counters.
type BreakerStats struct {
	State          State
	Failures       int
	TotalCalls     int64
	Rejected       int64
	StateChanges   int64
	LastFailure    time.Time
	LastSuccess    time.Time
	LastTransition time.Time
}

// Breaker is the failure-isolation state machine for one protected
// operation name. All state is serialized by a per-instance mutex.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu             sync.Mutex
	state          State
	failures       int
	trialSuccesses int
	trialInFlight  bool
	lastFailure    time.Time
	lastSuccess    time.Time
	openedAt       time.Time
	lastTransition time.Time
	totalCalls     int64
	rejected       int64
	stateChanges   int64

	now     func() time.Time
	metrics *metrics.Collector
	logger  *slog.Logger
}

// BreakerOption configures breakers created by a Registry.
type BreakerOption func(*Breaker)

// WithMetrics wires a metrics collector; every state transition and
// rejection emits a sample.
func WithMetrics(c *metrics.Collector) BreakerOption {
	return func(b *Breaker) { b.metrics = c }
}

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) BreakerOption {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// NewBreaker creates a standalone breaker. Prefer Registry.Get so call
// sites sharing an operation name share breaker state.
func NewBreaker(name string, cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		name:   name,
		cfg:    cfg.withDefaults(),
		state:  StateClosed,
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the protected operation name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, applying the OPEN -> HALF_OPEN
// transition if the recovery timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRecover()
	return b.state
}

// Allow reports whether a call may be attempted now. It returns nil to
// permit the call or a *CircuitOpenError when the circuit rejects it. In
// HALF_OPEN exactly one trial is permitted; concurrent callers are rejected
// until the trial reports its outcome.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++
	b.maybeRecover()

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.trialInFlight {
			return b.reject()
		}
		b.trialInFlight = true
		return nil
	default:
		return b.reject()
	}
}

// reject records a rejection. Caller holds b.mu.
func (b *Breaker) reject() error {
	b.rejected++
	if b.metrics != nil {
		b.metrics.Increment("circuit_breaker_rejected_total", metrics.Tags{"operation": b.name})
	}
	return &CircuitOpenError{Operation: b.name, Failures: b.failures, LastFailure: b.lastFailure}
}

// maybeRecover moves OPEN to HALF_OPEN once the recovery timeout has
// elapsed since the OPEN transition. Caller holds b.mu.
func (b *Breaker) maybeRecover() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
		b.transition(StateHalfOpen)
		b.trialInFlight = false
		b.trialSuccesses = 0
	}
}

// RecordSuccess reports a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastSuccess = b.now()
	if b.metrics != nil {
		b.metrics.Increment("circuit_breaker_calls_total", metrics.Tags{"operation": b.name, "outcome": "success"})
	}

	switch b.state {
	case StateHalfOpen:
		b.trialInFlight = false
		b.trialSuccesses++
		if b.trialSuccesses >= b.cfg.SuccessThreshold {
			b.failures = 0
			b.transition(StateClosed)
		}
	case StateClosed:
		b.failures = 0
	}
}

// RecordFailure reports a failed call outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()
	if b.metrics != nil {
		b.metrics.Increment("circuit_breaker_calls_total", metrics.Tags{"operation": b.name, "outcome": "failure"})
	}

	switch b.state {
	case StateHalfOpen:
		// Any failed trial reopens the circuit and restarts the timer.
		b.trialInFlight = false
		b.transition(StateOpen)
		b.openedAt = b.now()
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
			b.openedAt = b.now()
		}
	}
}

// Reset returns the breaker to its initial CLOSED state. Used by tests and
// operational tooling.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
	b.failures = 0
	b.trialSuccesses = 0
	b.trialInFlight = false
}

// transition changes state and emits observability samples. Caller holds
// b.mu.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.stateChanges++
	b.lastTransition = b.now()

	if b.metrics != nil {
		b.metrics.Increment("circuit_breaker_transitions_total", metrics.Tags{
			"operation": b.name,
			"from":      from.String(),
			"to":        to.String(),
		})
		b.metrics.SetGauge("circuit_breaker_state", float64(to), metrics.Tags{"operation": b.name})
	}
	b.logger.Info("circuit breaker state change",
		"operation", b.name,
		"from", from.String(),
		"to", to.String(),
		"failures", b.failures,
	)
}

// Stats returns a copy of the breaker's counters.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:          b.state,
		Failures:       b.failures,
		TotalCalls:     b.totalCalls,
		Rejected:       b.rejected,
		StateChanges:   b.stateChanges,
		LastFailure:    b.lastFailure,
		LastSuccess:    b.lastSuccess,
		LastTransition: b.lastTransition,
	}
}
