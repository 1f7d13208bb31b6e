package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/metrics"
)

// fakeClock lets tests advance breaker time deterministically.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return NewBreaker("queryUpstream", cfg, WithClock(clock.now)), clock
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 5, RecoveryTimeout: time.Minute})

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
	}
	assert.Equal(t, StateOpen, b.State())

	// 6th call is rejected without invoking the operation.
	err := b.Allow()
	require.Error(t, err)
	var coe *CircuitOpenError
	require.ErrorAs(t, err, &coe)
	assert.Equal(t, "queryUpstream", coe.Operation)
	assert.Equal(t, 5, coe.Failures)
}

func TestBreakerOpensExactlyOnce(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	col := metrics.New()
	b := NewBreaker("op", BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute},
		WithClock(clock.now), WithMetrics(col))

	for i := 0; i < 6; i++ {
		if b.Allow() == nil {
			b.RecordFailure()
		}
	}
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, int64(1), b.Stats().StateChanges, "CLOSED->OPEN happens exactly once")
}

func TestBreakerSuccessResetsCounter(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State(), "counter resets on success in CLOSED")
}

func TestBreakerHalfOpenSingleTrial(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 30 * time.Second})

	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())

	// Before the timeout: still rejected.
	clock.advance(29 * time.Second)
	assert.Error(t, b.Allow())

	// After the timeout: exactly one trial goes through.
	clock.advance(time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	assert.Error(t, b.Allow(), "second caller rejected while trial outstanding")

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Stats().Failures)
}

func TestBreakerFailedTrialReopens(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 10 * time.Second})

	b.RecordFailure()
	clock.advance(10 * time.Second)
	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())

	// Timer restarted: 9s later still open, 10s later half-open again.
	clock.advance(9 * time.Second)
	assert.Error(t, b.Allow())
	clock.advance(time.Second)
	assert.NoError(t, b.Allow())
}

func TestBreakerTransitionMetrics(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	col := metrics.New()
	b := NewBreaker("op", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Second},
		WithClock(clock.now), WithMetrics(col))

	b.RecordFailure()
	clock.advance(time.Second)
	require.NoError(t, b.Allow())
	b.RecordSuccess()

	transitions := map[string]float64{}
	for _, s := range col.Snapshot().Counters {
		if s.Name == "circuit_breaker_transitions_total" {
			transitions[s.Tags["from"]+"->"+s.Tags["to"]] = s.Value
		}
	}
	assert.Equal(t, 1.0, transitions["closed->open"])
	assert.Equal(t, 1.0, transitions["open->half_open"])
	assert.Equal(t, 1.0, transitions["half_open->closed"])
}

func TestRegistrySharesBreakersByName(t *testing.T) {
	r := NewRegistry(DefaultBreakerConfig())

	a := r.Get("queryUpstream")
	b := r.Get("queryUpstream")
	c := r.Get("summarize")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)

	a.RecordFailure()
	stats := r.Stats()
	assert.Equal(t, 1, stats["queryUpstream"].Failures)
	assert.Equal(t, 0, stats["summarize"].Failures)
}

func TestRegistryResetAll(t *testing.T) {
	r := NewRegistry(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	r.Get("a").RecordFailure()
	require.Equal(t, StateOpen, r.Get("a").State())

	r.ResetAll()
	assert.Equal(t, StateClosed, r.Get("a").State())
}
