package pipeline

import (
	"context"
	"fmt"

	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/internal/clinicaltrials"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/flow"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/metrics"
)

// Edges selected by the pipeline nodes.
const (
	// EdgeSummarize routes a non-empty study list to the summarize node.
	EdgeSummarize flow.Edge = "summarize"
	// EdgeEmpty routes an empty study list; the summarize node renders
	// the no-results report.
	EdgeEmpty flow.Edge = "empty"
)

// QueryTrialsNode fetches studies for one mutation: cache first, then the
// upstream client under the retry executor and circuit breaker.
type QueryTrialsNode struct {
	p *Pipeline
}

// NewQueryTrialsNode creates the query node.
func NewQueryTrialsNode(p *Pipeline) *QueryTrialsNode {
	return &QueryTrialsNode{p: p}
}

func (n *QueryTrialsNode) Name() string { return "query" }

// Operation names the protected upstream call for breaker bookkeeping.
func (n *QueryTrialsNode) Operation() string { return clinicaltrials.OperationName }

// Prep builds the query request from shared state. No I/O.
func (n *QueryTrialsNode) Prep(_ context.Context, shared flow.Shared) (any, error) {
	mutation, ok := shared.GetString(KeyMutation)
	if !ok || mutation == "" {
		return nil, fmt.Errorf("shared state missing %q", KeyMutation)
	}
	minRank, _ := shared.GetInt(KeyMinRank)
	maxRank, _ := shared.GetInt(KeyMaxRank)
	return clinicaltrials.QueryRequest{
		Mutation: mutation,
		MinRank:  minRank,
		MaxRank:  maxRank,
	}.Normalize(), nil
}

// queryOutcome is the exec result handed to Post.
type queryOutcome struct {
	resp      *clinicaltrials.QueryResponse
	fromCache bool
}

// Exec resolves the request: a cache hit short-circuits the upstream call;
// a miss goes upstream through the retry executor and is cached on
// success.
func (n *QueryTrialsNode) Exec(ctx context.Context, prep any) (any, error) {
	req := prep.(clinicaltrials.QueryRequest)
	return n.p.fetch(ctx, req)
}

// ExecAsync marks the node as a suspension point for asynchronous flows.
func (n *QueryTrialsNode) ExecAsync(ctx context.Context, prep any) (any, error) {
	return n.Exec(ctx, prep)
}

// Post records the studies in shared state and routes by result shape.
func (n *QueryTrialsNode) Post(_ context.Context, shared flow.Shared, _, result any) (flow.Edge, error) {
	out := result.(*queryOutcome)
	shared[KeyStudies] = out.resp.Studies
	shared[KeyFromCache] = out.fromCache
	if len(out.resp.Studies) == 0 {
		return EdgeEmpty, nil
	}
	return EdgeSummarize, nil
}

// SummarizeNode renders the markdown report from the fetched studies. Pure
// transformation: no I/O, identical under both execution modes.
type SummarizeNode struct {
	p *Pipeline
}

// NewSummarizeNode creates the summarize node.
func NewSummarizeNode(p *Pipeline) *SummarizeNode {
	return &SummarizeNode{p: p}
}

func (n *SummarizeNode) Name() string { return "summarize" }

type summarizeInput struct {
	mutation string
	studies  []clinicaltrials.Study
}

func (n *SummarizeNode) Prep(_ context.Context, shared flow.Shared) (any, error) {
	mutation, _ := shared.GetString(KeyMutation)
	studies, _ := shared[KeyStudies].([]clinicaltrials.Study)
	return summarizeInput{mutation: mutation, studies: studies}, nil
}

func (n *SummarizeNode) Exec(_ context.Context, prep any) (any, error) {
	in := prep.(summarizeInput)
	return clinicaltrials.Summarize(in.mutation, in.studies), nil
}

func (n *SummarizeNode) Post(_ context.Context, shared flow.Shared, _, result any) (flow.Edge, error) {
	shared[KeySummary] = result.(string)
	return flow.End, nil
}

// fetch is the shared cache-then-upstream path used by both the single
// query node and batch items.
func (p *Pipeline) fetch(ctx context.Context, req clinicaltrials.QueryRequest) (*queryOutcome, error) {
	key := req.CacheKey()

	var cached clinicaltrials.QueryResponse
	if p.cache != nil && p.cache.Get(ctx, key, &cached) {
		p.observeQuery("cache")
		p.logger.Debug("query served from cache", "mutation", req.Mutation, "key", key)
		return &queryOutcome{resp: &cached, fromCache: true}, nil
	}

	var resp *clinicaltrials.QueryResponse
	call := func(ctx context.Context) error {
		var err error
		resp, err = p.querier.Query(ctx, req)
		return err
	}

	var err error
	if p.executor != nil {
		err = p.executor.Do(ctx, clinicaltrials.OperationName, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		p.observeQuery("error")
		return nil, err
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, key, resp, p.cacheTTL); err != nil {
			p.logger.Warn("failed to cache query result", "key", key, "err", err)
		}
	}
	p.observeQuery("upstream")
	return &queryOutcome{resp: resp}, nil
}

func (p *Pipeline) observeQuery(source string) {
	if p.metrics != nil {
		p.metrics.Increment("pipeline_queries_total", metrics.Tags{"source": source})
	}
}
