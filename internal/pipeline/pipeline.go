// Package pipeline wires the domain flows: querying clinicaltrials.gov
// through the cache, retry and circuit-breaker layers, and summarizing the
// results as markdown.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/internal/clinicaltrials"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/cache"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/flow"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/metrics"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/resilience"
)

// Shared-state keys used by the pipeline flows.
const (
	KeyMutation  = "mutation"
	KeyMutations = "mutations"
	KeyMinRank   = "min_rank"
	KeyMaxRank   = "max_rank"
	KeyStudies   = "studies"
	KeyFromCache = "from_cache"
	KeySummary   = "summary"
	KeyResults   = "results"
)

// Querier is the upstream operation the pipeline wraps.
type Querier interface {
	Query(ctx context.Context, req clinicaltrials.QueryRequest) (*clinicaltrials.QueryResponse, error)
}

// Pipeline owns the shared collaborators behind every flow run.
type Pipeline struct {
	querier  Querier
	cache    *cache.Cache
	executor *resilience.Executor
	metrics  *metrics.Collector
	logger   *slog.Logger

	mode             flow.Mode
	cacheTTL         time.Duration
	batchConcurrency int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMode fixes the flow scheduling mode. Default auto-detection.
func WithMode(m flow.Mode) Option {
	return func(p *Pipeline) { p.mode = m }
}

// WithCacheTTL sets the TTL applied to cached query results. Default 1h.
func WithCacheTTL(ttl time.Duration) Option {
	return func(p *Pipeline) { p.cacheTTL = ttl }
}

// WithBatchConcurrency caps concurrent upstream calls in batch queries.
// Default 5.
func WithBatchConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchConcurrency = n
		}
	}
}

// WithMetrics wires a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pipeline) { p.metrics = c }
}

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a Pipeline over the given collaborators.
func New(querier Querier, c *cache.Cache, executor *resilience.Executor, opts ...Option) *Pipeline {
	p := &Pipeline{
		querier:          querier,
		cache:            c,
		executor:         executor,
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		cacheTTL:         time.Hour,
		batchConcurrency: 5,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// QueryFlow assembles the single-mutation flow:
//
//	query --summarize--> summarize
//	query --empty------> summarize
func (p *Pipeline) QueryFlow() (*flow.Flow, error) {
	f := flow.New("query_trials",
		flow.WithMode(p.mode),
		flow.WithFlowMetrics(p.metrics),
		flow.WithFlowLogger(p.logger),
	)
	if err := f.Add(NewQueryTrialsNode(p)); err != nil {
		return nil, err
	}
	if err := f.Add(NewSummarizeNode(p)); err != nil {
		return nil, err
	}
	for _, edge := range []flow.Edge{EdgeSummarize, EdgeEmpty} {
		if err := f.Connect("query", edge, "summarize"); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// BatchFlow assembles the multi-mutation flow: one batch node fanning out
// bounded-concurrency queries, then a combined report.
func (p *Pipeline) BatchFlow() (*flow.Flow, error) {
	f := flow.New("batch_query_trials",
		flow.WithMode(p.mode),
		flow.WithFlowMetrics(p.metrics),
		flow.WithFlowLogger(p.logger),
		flow.WithBatchConcurrency(p.batchConcurrency),
	)
	if err := f.Add(NewBatchQueryNode(p)); err != nil {
		return nil, err
	}
	return f, nil
}

// QueryTrials runs the single-mutation flow and returns the result.
func (p *Pipeline) QueryTrials(ctx context.Context, mutation string, minRank, maxRank int) (*QueryResult, error) {
	f, err := p.QueryFlow()
	if err != nil {
		return nil, err
	}

	shared := flow.NewShared()
	shared[KeyMutation] = mutation
	shared[KeyMinRank] = minRank
	shared[KeyMaxRank] = maxRank

	shared, err = f.Run(ctx, shared)
	if err != nil {
		return nil, err
	}
	return resultFromShared(shared)
}

// BatchQueryTrials runs the multi-mutation flow and returns per-mutation
// results aligned with the input order.
func (p *Pipeline) BatchQueryTrials(ctx context.Context, mutations []string) ([]QueryResult, error) {
	f, err := p.BatchFlow()
	if err != nil {
		return nil, err
	}

	shared := flow.NewShared()
	shared[KeyMutations] = mutations

	shared, err = f.Run(ctx, shared)
	if err != nil {
		return nil, err
	}
	results, _ := shared[KeyResults].([]QueryResult)
	return results, nil
}

// QueryResult is the outcome of one mutation query.
type QueryResult struct {
	Mutation  string                 `json:"mutation"`
	Studies   []clinicaltrials.Study `json:"studies"`
	FromCache bool                   `json:"from_cache"`
	Summary   string                 `json:"summary"`
	Err       string                 `json:"error,omitempty"`
}

func resultFromShared(shared flow.Shared) (*QueryResult, error) {
	mutation, _ := shared.GetString(KeyMutation)
	summary, ok := shared.GetString(KeySummary)
	if !ok {
		return nil, fmt.Errorf("flow finished without a summary for %q", mutation)
	}
	studies, _ := shared[KeyStudies].([]clinicaltrials.Study)
	fromCache, _ := shared[KeyFromCache].(bool)
	return &QueryResult{
		Mutation:  mutation,
		Studies:   studies,
		FromCache: fromCache,
		Summary:   summary,
	}, nil
}
