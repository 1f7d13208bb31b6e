// Package flow is a graph-based execution engine: named nodes with a
// prep/exec/post lifecycle, connected by labelled edges, runnable under
// synchronous or asynchronous scheduling with identical semantics.
package flow

import (
	"context"
	"fmt"
)

// Edge labels the transition a node selects after Post. The zero value End
// terminates the flow intentionally; any other label must resolve to a
// connected node.
type Edge string

const (
	// End terminates the flow after the current node.
	End Edge = ""
	// DefaultEdge is the conventional label for the single outgoing edge
	// of linear pipelines.
	DefaultEdge Edge = "default"
)

// Node is one processing step. Prep reads inputs from the shared state and
// never performs I/O; Exec runs the business operation (the only
// suspension point); Post writes results back and selects the next edge.
type Node interface {
	Name() string
	Prep(ctx context.Context, shared Shared) (any, error)
	Exec(ctx context.Context, prep any) (any, error)
	Post(ctx context.Context, shared Shared, prep, result any) (Edge, error)
}

// AsyncExecutor marks a node whose Exec suspends on I/O. Flows in ModeAuto
// switch to asynchronous scheduling when any node implements it.
type AsyncExecutor interface {
	Node
	ExecAsync(ctx context.Context, prep any) (any, error)
}

// BatchNode applies the exec step to each element of the collection
// returned by Prep. Item failures are captured per item, never abort the
// batch; Post receives results aligned with input order.
type BatchNode interface {
	Node
	// PrepBatch returns the items to process.
	PrepBatch(ctx context.Context, shared Shared) ([]any, error)
	// ExecItem processes one item.
	ExecItem(ctx context.Context, item any) (any, error)
	// PostBatch consumes the ordered item results and selects the next
	// edge.
	PostBatch(ctx context.Context, shared Shared, results []ItemResult) (Edge, error)
}

// Concurrent lets a BatchNode set its own in-flight cap for asynchronous
// runs, overriding the flow default.
type Concurrent interface {
	MaxConcurrent() int
}

// ItemResult is the outcome of one batch item.
type ItemResult struct {
	Index int
	Value any
	Err   error
}

// Operation optionally names the protected operation a node's exec
// represents, for retry and circuit-breaker bookkeeping. Nodes without it
// are protected under their own name.
type Operation interface {
	Operation() string
}

// NodeExecutionError carries the failing node's identity alongside the
// original cause.
type NodeExecutionError struct {
	Flow string
	Node string
	Err  error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("flow %q: node %q: %v", e.Flow, e.Node, e.Err)
}

func (e *NodeExecutionError) Unwrap() error { return e.Err }

// UndefinedEdgeError reports a node selecting an edge with no connected
// target: broken wiring, as opposed to an intentional End.
type UndefinedEdgeError struct {
	Flow string
	Node string
	Edge Edge
}

func (e *UndefinedEdgeError) Error() string {
	return fmt.Sprintf("flow %q: node %q selected undefined edge %q", e.Flow, e.Node, e.Edge)
}
