package flow

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// runBatchNode applies the exec step to every item from PrepBatch.
// Synchronous runs process items in order; asynchronous runs dispatch them
// concurrently under the node's in-flight cap. Either way the result slice
// is aligned with input order and item failures are captured per item.
func (f *Flow) runBatchNode(ctx context.Context, mode Mode, node BatchNode, shared Shared) (Edge, error) {
	name := node.Name()
	items, err := node.PrepBatch(ctx, shared)
	if err != nil {
		return End, &NodeExecutionError{Flow: f.name, Node: name, Err: fmt.Errorf("prep: %w", err)}
	}

	results := make([]ItemResult, len(items))
	for i := range results {
		results[i].Index = i
	}

	if mode == ModeSync {
		for i, item := range items {
			if err := ctx.Err(); err != nil {
				f.failRemaining(results, i, err)
				break
			}
			results[i].Value, results[i].Err = f.execItem(ctx, node, item)
		}
	} else {
		f.runBatchAsync(ctx, node, items, results)
	}

	edge, err := node.PostBatch(ctx, shared, results)
	if err != nil {
		return End, &NodeExecutionError{Flow: f.name, Node: name, Err: fmt.Errorf("post: %w", err)}
	}
	return edge, nil
}

// runBatchAsync dispatches items under a counting semaphore. Cancellation
// stops new dispatches; items already in flight run to completion on their
// own deadlines.
func (f *Flow) runBatchAsync(ctx context.Context, node BatchNode, items []any, results []ItemResult) {
	limit := f.batchCap
	if c, ok := node.(Concurrent); ok && c.MaxConcurrent() > 0 {
		limit = c.MaxConcurrent()
	}
	if limit <= 0 {
		limit = 1
	}

	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup
	for i, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			f.failRemaining(results, i, err)
			break
		}
		wg.Add(1)
		go func(i int, item any) {
			defer wg.Done()
			defer sem.Release(1)
			results[i].Value, results[i].Err = f.execItem(ctx, node, item)
		}(i, item)
	}
	wg.Wait()
}

// execItem runs one batch item, under the retry executor when configured.
func (f *Flow) execItem(ctx context.Context, node BatchNode, item any) (any, error) {
	if f.executor == nil {
		return node.ExecItem(ctx, item)
	}
	var result any
	err := f.executor.Do(ctx, operationName(node), func(ctx context.Context) error {
		var execErr error
		result, execErr = node.ExecItem(ctx, item)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// failRemaining marks every item from index on as failed with err.
func (f *Flow) failRemaining(results []ItemResult, from int, err error) {
	for i := from; i < len(results); i++ {
		results[i].Err = err
	}
}
