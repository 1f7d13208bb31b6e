package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/internal/clinicaltrials"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/cache"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/flow"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/resilience"
)

// stubQuerier counts calls and delegates to fn.
type stubQuerier struct {
	mu    sync.Mutex
	calls int
	fn    func(req clinicaltrials.QueryRequest) (*clinicaltrials.QueryResponse, error)
}

func (q *stubQuerier) Query(_ context.Context, req clinicaltrials.QueryRequest) (*clinicaltrials.QueryResponse, error) {
	q.mu.Lock()
	q.calls++
	q.mu.Unlock()
	return q.fn(req)
}

func (q *stubQuerier) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

func studyResponse(id, title string) *clinicaltrials.QueryResponse {
	return &clinicaltrials.QueryResponse{
		Studies: []clinicaltrials.Study{{
			ProtocolSection: clinicaltrials.ProtocolSection{
				Identification: clinicaltrials.IdentificationModule{NCTID: id, BriefTitle: title},
				Status:         clinicaltrials.StatusModule{OverallStatus: "RECRUITING"},
			},
		}},
		TotalCount: 1,
	}
}

func noRetryExecutor(opts ...resilience.ExecutorOption) *resilience.Executor {
	base := []resilience.ExecutorOption{
		resilience.WithSleep(func(context.Context, time.Duration) error { return nil }),
	}
	return resilience.NewExecutor(
		resilience.RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 2},
		append(base, opts...)...,
	)
}

func TestQueryTrialsCachesUpstreamResult(t *testing.T) {
	q := &stubQuerier{fn: func(req clinicaltrials.QueryRequest) (*clinicaltrials.QueryResponse, error) {
		return studyResponse("NCT01234567", "Osimertinib trial"), nil
	}}
	p := New(q, cache.New(), noRetryExecutor())

	first, err := p.QueryTrials(context.Background(), "EGFR L858R", 1, 10)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Contains(t, first.Summary, "NCT01234567")
	require.Len(t, first.Studies, 1)

	second, err := p.QueryTrials(context.Background(), "EGFR L858R", 1, 10)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, 1, q.callCount(), "second query served from cache")
}

func TestQueryTrialsEmptyResult(t *testing.T) {
	q := &stubQuerier{fn: func(clinicaltrials.QueryRequest) (*clinicaltrials.QueryResponse, error) {
		return &clinicaltrials.QueryResponse{Studies: []clinicaltrials.Study{}}, nil
	}}
	p := New(q, cache.New(), noRetryExecutor())

	res, err := p.QueryTrials(context.Background(), "XYZ123", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Studies)
	assert.Contains(t, res.Summary, "No clinical trials found")
}

func TestQueryTrialsRetriesTransientFailures(t *testing.T) {
	attempts := 0
	q := &stubQuerier{fn: func(clinicaltrials.QueryRequest) (*clinicaltrials.QueryResponse, error) {
		attempts++
		if attempts < 3 {
			return nil, &resilience.TransientError{Operation: clinicaltrials.OperationName, Err: errors.New("status 503")}
		}
		return studyResponse("NCT01234567", "Recovered"), nil
	}}
	p := New(q, cache.New(), noRetryExecutor())

	res, err := p.QueryTrials(context.Background(), "EGFR", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, res.Summary, "Recovered")
}

func TestQueryTrialsPermanentFailureSurfaces(t *testing.T) {
	q := &stubQuerier{fn: func(clinicaltrials.QueryRequest) (*clinicaltrials.QueryResponse, error) {
		return nil, &resilience.PermanentError{Operation: clinicaltrials.OperationName, Err: errors.New("status 400")}
	}}
	p := New(q, cache.New(), noRetryExecutor())

	_, err := p.QueryTrials(context.Background(), "EGFR", 1, 10)
	require.Error(t, err)
	assert.Equal(t, 1, q.callCount())

	var nodeErr *flow.NodeExecutionError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "query", nodeErr.Node)
	var perm *resilience.PermanentError
	assert.ErrorAs(t, err, &perm)
}

func TestQueryTrialsOpenCircuitFailsFast(t *testing.T) {
	breakers := resilience.NewRegistry(resilience.BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	breakers.Get(clinicaltrials.OperationName).RecordFailure()

	q := &stubQuerier{fn: func(clinicaltrials.QueryRequest) (*clinicaltrials.QueryResponse, error) {
		return studyResponse("NCT01234567", "x"), nil
	}}
	p := New(q, cache.New(), noRetryExecutor(resilience.WithBreakers(breakers)))

	_, err := p.QueryTrials(context.Background(), "EGFR", 1, 10)
	require.Error(t, err)
	assert.True(t, resilience.IsCircuitOpen(err))
	assert.Zero(t, q.callCount())
}

func TestBatchQueryTrialsOrderedResults(t *testing.T) {
	q := &stubQuerier{fn: func(req clinicaltrials.QueryRequest) (*clinicaltrials.QueryResponse, error) {
		if req.Mutation == "BROKEN" {
			return nil, &resilience.PermanentError{Operation: clinicaltrials.OperationName, Err: errors.New("status 400")}
		}
		return studyResponse("NCT-"+req.Mutation, "Trial for "+req.Mutation), nil
	}}
	p := New(q, cache.New(), noRetryExecutor(), WithBatchConcurrency(3))

	results, err := p.BatchQueryTrials(context.Background(), []string{"EGFR", "BROKEN", "KRAS"})
	require.NoError(t, err, "item failures never abort the batch")
	require.Len(t, results, 3)

	assert.Equal(t, "EGFR", results[0].Mutation)
	assert.Empty(t, results[0].Err)
	assert.Contains(t, results[0].Summary, "NCT-EGFR")

	assert.Equal(t, "BROKEN", results[1].Mutation)
	assert.NotEmpty(t, results[1].Err)

	assert.Equal(t, "KRAS", results[2].Mutation)
	assert.Empty(t, results[2].Err)
}

func TestBatchQueryTrialsSharesCacheWithSingleQueries(t *testing.T) {
	q := &stubQuerier{fn: func(req clinicaltrials.QueryRequest) (*clinicaltrials.QueryResponse, error) {
		return studyResponse("NCT-"+req.Mutation, "x"), nil
	}}
	p := New(q, cache.New(), noRetryExecutor())

	_, err := p.QueryTrials(context.Background(), "EGFR", 1, 10)
	require.NoError(t, err)

	results, err := p.BatchQueryTrials(context.Background(), []string{"EGFR"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].FromCache)
	assert.Equal(t, 1, q.callCount())
}

func TestBatchQueryTrialsCombinedSummary(t *testing.T) {
	q := &stubQuerier{fn: func(req clinicaltrials.QueryRequest) (*clinicaltrials.QueryResponse, error) {
		return studyResponse("NCT-"+req.Mutation, "x"), nil
	}}
	p := New(q, cache.New(), noRetryExecutor())

	f, err := p.BatchFlow()
	require.NoError(t, err)

	shared := flow.NewShared()
	shared[KeyMutations] = []string{"EGFR", "KRAS"}
	shared, err = f.Run(context.Background(), shared)
	require.NoError(t, err)

	summary, ok := shared.GetString(KeySummary)
	require.True(t, ok)
	assert.Contains(t, summary, "# Batch Clinical Trial Report")
	assert.Contains(t, summary, "NCT-EGFR")
	assert.Contains(t, summary, "NCT-KRAS")
}
