package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/internal/clinicaltrials"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/flow"
)

// BatchQueryNode fans one query per mutation out through the shared
// cache-then-upstream path. Per-mutation failures are captured in the
// result list, never abort the batch.
type BatchQueryNode struct {
	p *Pipeline
}

// NewBatchQueryNode creates the batch node.
func NewBatchQueryNode(p *Pipeline) *BatchQueryNode {
	return &BatchQueryNode{p: p}
}

func (n *BatchQueryNode) Name() string { return "batch_query" }

// Operation names the protected upstream call, shared with the single
// query node so both feed the same breaker.
func (n *BatchQueryNode) Operation() string { return clinicaltrials.OperationName }

// MaxConcurrent bounds in-flight upstream calls in asynchronous runs.
func (n *BatchQueryNode) MaxConcurrent() int { return n.p.batchConcurrency }

func (n *BatchQueryNode) Prep(context.Context, flow.Shared) (any, error) { return nil, nil }

func (n *BatchQueryNode) Exec(context.Context, any) (any, error) { return nil, nil }

func (n *BatchQueryNode) Post(context.Context, flow.Shared, any, any) (flow.Edge, error) {
	return flow.End, nil
}

// PrepBatch reads the mutation list from shared state.
func (n *BatchQueryNode) PrepBatch(_ context.Context, shared flow.Shared) ([]any, error) {
	mutations, ok := shared.GetStrings(KeyMutations)
	if !ok {
		return nil, fmt.Errorf("shared state missing %q", KeyMutations)
	}
	items := make([]any, len(mutations))
	for i, m := range mutations {
		items[i] = clinicaltrials.QueryRequest{Mutation: m}.Normalize()
	}
	return items, nil
}

// ExecItem resolves one mutation.
func (n *BatchQueryNode) ExecItem(ctx context.Context, item any) (any, error) {
	req := item.(clinicaltrials.QueryRequest)
	out, err := n.p.fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	return &QueryResult{
		Mutation:  req.Mutation,
		Studies:   out.resp.Studies,
		FromCache: out.fromCache,
		Summary:   clinicaltrials.Summarize(req.Mutation, out.resp.Studies),
	}, nil
}

// PostBatch assembles per-mutation results in input order plus a combined
// markdown report.
func (n *BatchQueryNode) PostBatch(_ context.Context, shared flow.Shared, items []flow.ItemResult) (flow.Edge, error) {
	mutations, _ := shared.GetStrings(KeyMutations)

	results := make([]QueryResult, len(items))
	for i, item := range items {
		if item.Err != nil {
			mutation := ""
			if i < len(mutations) {
				mutation = mutations[i]
			}
			results[i] = QueryResult{Mutation: mutation, Err: item.Err.Error()}
			continue
		}
		results[i] = *item.Value.(*QueryResult)
	}

	shared[KeyResults] = results
	shared[KeySummary] = CombineSummaries(results)
	return flow.End, nil
}

// CombineSummaries joins per-mutation reports into one document.
func CombineSummaries(results []QueryResult) string {
	var b strings.Builder
	b.WriteString("# Batch Clinical Trial Report\n\n")
	for _, r := range results {
		if r.Err != "" {
			fmt.Fprintf(&b, "## %s\n\nQuery failed: %s\n\n", r.Mutation, r.Err)
			continue
		}
		b.WriteString(r.Summary)
		b.WriteString("\n")
	}
	return b.String()
}
