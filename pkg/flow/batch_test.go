package flow

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBatchNode processes the "mutations" slice from shared state.
type stubBatchNode struct {
	name          string
	maxConcurrent int
	execItem      func(ctx context.Context, item any) (any, error)
	results       []ItemResult
	next          Edge
}

func (n *stubBatchNode) Name() string { return n.name }

func (n *stubBatchNode) Prep(context.Context, Shared) (any, error) { return nil, nil }

func (n *stubBatchNode) Exec(context.Context, any) (any, error) { return nil, nil }

func (n *stubBatchNode) Post(context.Context, Shared, any, any) (Edge, error) { return End, nil }

func (n *stubBatchNode) PrepBatch(_ context.Context, shared Shared) ([]any, error) {
	items, _ := shared["mutations"].([]any)
	return items, nil
}

func (n *stubBatchNode) ExecItem(ctx context.Context, item any) (any, error) {
	return n.execItem(ctx, item)
}

func (n *stubBatchNode) PostBatch(_ context.Context, shared Shared, results []ItemResult) (Edge, error) {
	n.results = results
	shared["results"] = results
	return n.next, nil
}

func (n *stubBatchNode) MaxConcurrent() int { return n.maxConcurrent }

func batchShared(items ...any) Shared {
	s := NewShared()
	s["mutations"] = items
	return s
}

func TestBatchNodeOrderedResults(t *testing.T) {
	n := &stubBatchNode{
		name:          "batch",
		maxConcurrent: 4,
		execItem: func(_ context.Context, item any) (any, error) {
			// Later items finish first.
			i := item.(int)
			time.Sleep(time.Duration(10-i) * time.Millisecond)
			return i * 10, nil
		},
	}
	f := New("batch", WithMode(ModeAsync))
	require.NoError(t, f.Add(n))

	_, err := f.Run(context.Background(), batchShared(1, 2, 3, 4, 5))
	require.NoError(t, err)

	require.Len(t, n.results, 5)
	for i, r := range n.results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, (i+1)*10, r.Value, "output order matches input order")
		assert.NoError(t, r.Err)
	}
}

func TestBatchNodeConcurrencyBound(t *testing.T) {
	var inFlight, peak int64
	n := &stubBatchNode{
		name:          "batch",
		maxConcurrent: 3,
		execItem: func(context.Context, any) (any, error) {
			cur := atomic.AddInt64(&inFlight, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if cur <= p || atomic.CompareAndSwapInt64(&peak, p, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			return nil, nil
		},
	}
	f := New("batch", WithMode(ModeAsync))
	require.NoError(t, f.Add(n))

	items := make([]any, 12)
	for i := range items {
		items[i] = i
	}
	_, err := f.Run(context.Background(), batchShared(items...))
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(3))
}

func TestBatchNodeItemFailuresDoNotAbort(t *testing.T) {
	n := &stubBatchNode{
		name:          "batch",
		maxConcurrent: 2,
		execItem: func(_ context.Context, item any) (any, error) {
			if item.(int)%2 == 0 {
				return nil, fmt.Errorf("item %d failed", item)
			}
			return item, nil
		},
	}
	f := New("batch", WithMode(ModeAsync))
	require.NoError(t, f.Add(n))

	_, err := f.Run(context.Background(), batchShared(0, 1, 2, 3))
	require.NoError(t, err, "item failures are captured, not propagated")

	require.Len(t, n.results, 4)
	assert.Error(t, n.results[0].Err)
	assert.NoError(t, n.results[1].Err)
	assert.Error(t, n.results[2].Err)
	assert.NoError(t, n.results[3].Err)
	assert.Equal(t, 3, n.results[3].Value)
}

func TestBatchNodeSyncProcessesSequentially(t *testing.T) {
	var order []int
	n := &stubBatchNode{
		name: "batch",
		execItem: func(_ context.Context, item any) (any, error) {
			order = append(order, item.(int))
			return item, nil
		},
	}
	f := New("batch", WithMode(ModeSync))
	require.NoError(t, f.Add(n))

	_, err := f.Run(context.Background(), batchShared(3, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 2}, order, "sync mode preserves submission order")
}

func TestBatchNodeCancellationStopsNewDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var started int64
	n := &stubBatchNode{
		name:          "batch",
		maxConcurrent: 1,
		execItem: func(_ context.Context, item any) (any, error) {
			atomic.AddInt64(&started, 1)
			cancel()
			time.Sleep(50 * time.Millisecond)
			return item, nil
		},
	}
	f := New("batch", WithMode(ModeAsync))
	require.NoError(t, f.Add(n))

	_, _ = f.Run(ctx, batchShared(1, 2, 3, 4))

	// With cap 1, the first item cancels the run before further
	// dispatches acquire the semaphore.
	assert.Equal(t, int64(1), atomic.LoadInt64(&started))
	require.Len(t, n.results, 4)
	assert.ErrorIs(t, n.results[1].Err, context.Canceled)
}

func TestBatchNodeEmptyInput(t *testing.T) {
	n := &stubBatchNode{
		name: "batch",
		execItem: func(_ context.Context, item any) (any, error) {
			return item, nil
		},
		next: End,
	}
	f := New("batch", WithMode(ModeAsync))
	require.NoError(t, f.Add(n))

	_, err := f.Run(context.Background(), batchShared())
	require.NoError(t, err)
	assert.Empty(t, n.results)
}

func TestBatchNodeEdgeSelection(t *testing.T) {
	var after []string
	n := &stubBatchNode{
		name:          "batch",
		maxConcurrent: 2,
		execItem: func(_ context.Context, item any) (any, error) {
			return item, nil
		},
		next: "report",
	}
	f := New("batch", WithMode(ModeAsync))
	require.NoError(t, f.Add(n))
	require.NoError(t, f.Add(recordingNode("report", &after, End)))
	require.NoError(t, f.Connect("batch", "report", "report"))

	_, err := f.Run(context.Background(), batchShared(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"report"}, after)
}
