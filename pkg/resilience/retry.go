package resilience

import (
	"context"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/metrics"
)

// RetryPolicy is the immutable retry configuration for one executor.
//
// With Jitter enabled the observed delay is drawn uniformly from
// [0, computed_delay] (full jitter); without it the delay is exactly
// min(InitialDelay * BackoffFactor^(attempt-1), MaxDelay).
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
	Jitter        bool
}

// DefaultRetryPolicy mirrors the upstream client defaults: 3 attempts,
// 1s initial delay, doubling, 60s cap, jitter on.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      60 * time.Second,
		Jitter:        true,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = 2.0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 60 * time.Second
	}
	return p
}

// Delay returns the backoff delay scheduled after a failed attempt
// (1-based), before jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Executor wraps fallible operations with retry, backoff and circuit
// breaker consultation.
type Executor struct {
	policy   RetryPolicy
	breakers *Registry
	metrics  *metrics.Collector
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	randFn   func() float64
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBreakers wires a breaker registry; each attempt consults the breaker
// named after the operation before calling, and reports the outcome after.
func WithBreakers(r *Registry) ExecutorOption {
	return func(e *Executor) { e.breakers = r }
}

// WithRetryMetrics wires a metrics collector for per-attempt samples.
func WithRetryMetrics(c *metrics.Collector) ExecutorOption {
	return func(e *Executor) { e.metrics = c }
}

// WithRetryLogger sets a structured logger.
func WithRetryLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSleep overrides the delay function. Used by tests to capture delays
// without waiting.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) { e.sleep = sleep }
}

// WithRand overrides the jitter source with a function returning values in
// [0, 1). Used by tests.
func WithRand(fn func() float64) ExecutorOption {
	return func(e *Executor) { e.randFn = fn }
}

// NewExecutor creates a retry executor for the given policy.
func NewExecutor(policy RetryPolicy, opts ...ExecutorOption) *Executor {
	e := &Executor{
		policy: policy.withDefaults(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		sleep:  sleepCtx,
		randFn: rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's retry policy.
func (e *Executor) Policy() RetryPolicy { return e.policy }

// Do runs fn under the executor's retry policy for the named operation.
//
// Attempt 1 runs immediately. Retryable failures wait the backoff delay and
// retry; a PermanentError or an open circuit surfaces immediately. When all
// attempts fail the last error is wrapped in an ExhaustedError.
func (e *Executor) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var breaker *Breaker
	if e.breakers != nil {
		breaker = e.breakers.Get(operation)
	}

	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if breaker != nil {
			if err := breaker.Allow(); err != nil {
				// No retry against an open circuit: surface immediately.
				e.observe(operation, "rejected", 0)
				e.logger.Warn("retry aborted: circuit open",
					"operation", operation, "attempt", attempt)
				return err
			}
		}

		start := time.Now()
		err := fn(ctx)
		elapsed := time.Since(start)

		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
			}
			e.observe(operation, "success", elapsed)
			if attempt > 1 {
				e.logger.Info("operation recovered after retry",
					"operation", operation, "attempts", attempt)
			}
			return nil
		}

		if breaker != nil {
			breaker.RecordFailure()
		}
		lastErr = err

		if !Retryable(err) {
			e.observe(operation, "failure", elapsed)
			e.logger.Error("non-retryable failure",
				"operation", operation, "attempt", attempt, "err", err)
			return err
		}

		if attempt == e.policy.MaxAttempts {
			e.observe(operation, "retry_exhausted", elapsed)
			e.logger.Error("retries exhausted",
				"operation", operation, "attempts", attempt, "err", err)
			return &ExhaustedError{Operation: operation, Attempts: attempt, Err: err}
		}

		delay := e.policy.Delay(attempt)
		if e.policy.Jitter {
			delay = time.Duration(e.randFn() * float64(delay))
		}
		e.observe(operation, "retry", elapsed)
		e.logger.Warn("retrying after failure",
			"operation", operation, "attempt", attempt, "delay", delay, "err", err)

		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

func (e *Executor) observe(operation, outcome string, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	tags := metrics.Tags{"operation": operation, "outcome": outcome}
	e.metrics.Increment("retry_attempts_total", tags)
	if elapsed > 0 {
		e.metrics.Observe("retry_attempt_duration_seconds", elapsed.Seconds(), tags)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
