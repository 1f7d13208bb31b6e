package mcp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/internal/clinicaltrials"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/internal/pipeline"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/cache"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/metrics"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/resilience"
)

type stubQuerier struct {
	fn func(req clinicaltrials.QueryRequest) (*clinicaltrials.QueryResponse, error)
}

func (q *stubQuerier) Query(_ context.Context, req clinicaltrials.QueryRequest) (*clinicaltrials.QueryResponse, error) {
	return q.fn(req)
}

func newTestServer(t *testing.T, fn func(req clinicaltrials.QueryRequest) (*clinicaltrials.QueryResponse, error)) *Server {
	t.Helper()
	executor := resilience.NewExecutor(
		resilience.RetryPolicy{MaxAttempts: 1, InitialDelay: time.Millisecond},
		resilience.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	c := cache.New()
	col := metrics.New()
	p := pipeline.New(&stubQuerier{fn: fn}, c, executor)
	return NewServer(p, c, col)
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

func TestQueryTrialsTool(t *testing.T) {
	s := newTestServer(t, func(req clinicaltrials.QueryRequest) (*clinicaltrials.QueryResponse, error) {
		return studyResponse("NCT01234567", "Osimertinib trial"), nil
	})

	args := map[string]interface{}{"mutation": "EGFR L858R", "min_rank": float64(1), "max_rank": float64(10)}
	result, err := s.handleQueryTrials(context.Background(), mcp.CallToolRequest{}, args)
	require.NoError(t, err)

	assert.Equal(t, "EGFR L858R", result.Mutation)
	assert.False(t, result.FromCache)
	assert.Contains(t, result.Summary, "NCT01234567")
	require.Len(t, result.Studies, 1)

	again, err := s.handleQueryTrials(context.Background(), mcp.CallToolRequest{}, args)
	require.NoError(t, err)
	assert.True(t, again.FromCache)
}

func TestQueryTrialsToolPermanentError(t *testing.T) {
	s := newTestServer(t, func(clinicaltrials.QueryRequest) (*clinicaltrials.QueryResponse, error) {
		return nil, &resilience.PermanentError{Operation: clinicaltrials.OperationName, Err: errors.New("status 400")}
	})

	_, err := s.handleQueryTrials(context.Background(), mcp.CallToolRequest{},
		map[string]interface{}{"mutation": "EGFR"})
	require.Error(t, err)

	var perm *resilience.PermanentError
	assert.ErrorAs(t, err, &perm)
}

func TestBatchQueryTrialsTool(t *testing.T) {
	s := newTestServer(t, func(req clinicaltrials.QueryRequest) (*clinicaltrials.QueryResponse, error) {
		if req.Mutation == "BROKEN" {
			return nil, &resilience.PermanentError{Operation: clinicaltrials.OperationName, Err: errors.New("status 400")}
		}
		return studyResponse("NCT-"+req.Mutation, "Trial for "+req.Mutation), nil
	})

	resp, err := s.handleBatchQueryTrials(context.Background(), mcp.CallToolRequest{},
		map[string]interface{}{"mutations": `["EGFR", "BROKEN", "KRAS"]`})
	require.NoError(t, err, "item failures are reported per mutation, not as a tool error")
	require.Len(t, resp.Results, 3)

	assert.Equal(t, "EGFR", resp.Results[0].Mutation)
	assert.Empty(t, resp.Results[0].Err)
	assert.NotEmpty(t, resp.Results[1].Err)
	assert.Equal(t, "KRAS", resp.Results[2].Mutation)

	assert.Contains(t, resp.Summary, "# Batch Clinical Trial Report")
	assert.Contains(t, resp.Summary, "NCT-EGFR")
	assert.Contains(t, resp.Summary, "Query failed:")
}

func TestBatchQueryTrialsToolRejectsBadInput(t *testing.T) {
	s := newTestServer(t, func(clinicaltrials.QueryRequest) (*clinicaltrials.QueryResponse, error) {
		return studyResponse("NCT01234567", "x"), nil
	})

	_, err := s.handleBatchQueryTrials(context.Background(), mcp.CallToolRequest{},
		map[string]interface{}{"mutations": "EGFR, KRAS"})
	assert.Error(t, err)

	_, err = s.handleBatchQueryTrials(context.Background(), mcp.CallToolRequest{},
		map[string]interface{}{"mutations": "[]"})
	assert.Error(t, err)
}

func TestServeStdioStopsOnContextCancel(t *testing.T) {
	s := newTestServer(t, func(clinicaltrials.QueryRequest) (*clinicaltrials.QueryResponse, error) {
		return studyResponse("NCT01234567", "x"), nil
	})

	// The pipe never delivers input, standing in for an idle stdin.
	in, pw := io.Pipe()
	defer pw.Close()
	var out bytes.Buffer

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serveStdio(ctx, in, &out) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("stdio server kept running after cancellation")
	}
}

func TestCacheStatsTool(t *testing.T) {
	s := newTestServer(t, func(clinicaltrials.QueryRequest) (*clinicaltrials.QueryResponse, error) {
		return studyResponse("NCT01234567", "x"), nil
	})

	_, err := s.handleQueryTrials(context.Background(), mcp.CallToolRequest{},
		map[string]interface{}{"mutation": "EGFR"})
	require.NoError(t, err)
	_, err = s.handleQueryTrials(context.Background(), mcp.CallToolRequest{},
		map[string]interface{}{"mutation": "EGFR"})
	require.NoError(t, err)

	stats, err := s.handleCacheStats(context.Background(), mcp.CallToolRequest{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestMetricsSnapshotTool(t *testing.T) {
	s := newTestServer(t, func(clinicaltrials.QueryRequest) (*clinicaltrials.QueryResponse, error) {
		return studyResponse("NCT01234567", "x"), nil
	})
	s.metrics.Increment("pipeline_queries_total", metrics.Tags{"source": "upstream"})

	snap, err := s.handleMetricsSnapshot(context.Background(), mcp.CallToolRequest{}, nil)
	require.NoError(t, err)
	require.Len(t, snap.Counters, 1)
	assert.Equal(t, "pipeline_queries_total", snap.Counters[0].Name)
}
