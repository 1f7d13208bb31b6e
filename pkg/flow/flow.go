package flow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/metrics"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/resilience"
)

// Flow is an owned directed graph of nodes connected by labelled edges.
// Wiring errors are reported when the graph is assembled, not during a
// run: Connect rejects endpoints that were never added.
//
// A Flow is immutable once assembled and safe to run concurrently; every
// run owns its Shared instance.
type Flow struct {
	name     string
	nodes    map[string]Node
	edges    map[string]map[Edge]string
	start    string
	mode     Mode
	maxSteps int
	batchCap int
	executor *resilience.Executor
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithMode fixes the scheduling mode, overriding auto-detection.
func WithMode(m Mode) FlowOption {
	return func(f *Flow) { f.mode = m }
}

// WithMaxSteps bounds the number of node executions in one run, guarding
// against wiring cycles. Default 100.
func WithMaxSteps(n int) FlowOption {
	return func(f *Flow) { f.maxSteps = n }
}

// WithBatchConcurrency sets the default in-flight cap for batch nodes in
// asynchronous runs. Nodes implementing Concurrent override it.
func WithBatchConcurrency(n int) FlowOption {
	return func(f *Flow) { f.batchCap = n }
}

// WithExecutor wraps every node exec in the retry executor, protected
// under the node's operation name.
func WithExecutor(e *resilience.Executor) FlowOption {
	return func(f *Flow) { f.executor = e }
}

// WithFlowMetrics wires a metrics collector.
func WithFlowMetrics(c *metrics.Collector) FlowOption {
	return func(f *Flow) { f.metrics = c }
}

// WithFlowLogger sets a structured logger.
func WithFlowLogger(logger *slog.Logger) FlowOption {
	return func(f *Flow) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// New creates an empty named flow.
func New(name string, opts ...FlowOption) *Flow {
	f := &Flow{
		name:     name,
		nodes:    make(map[string]Node),
		edges:    make(map[string]map[Edge]string),
		mode:     ModeAuto,
		maxSteps: 100,
		batchCap: 5,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name returns the flow's name.
func (f *Flow) Name() string { return f.name }

// Add registers a node. The first added node becomes the start node unless
// Start overrides it.
func (f *Flow) Add(n Node) error {
	name := n.Name()
	if name == "" {
		return fmt.Errorf("flow %q: node with empty name", f.name)
	}
	if _, exists := f.nodes[name]; exists {
		return fmt.Errorf("flow %q: duplicate node %q", f.name, name)
	}
	f.nodes[name] = n
	if f.start == "" {
		f.start = name
	}
	return nil
}

// Start designates the entry node.
func (f *Flow) Start(name string) error {
	if _, ok := f.nodes[name]; !ok {
		return fmt.Errorf("flow %q: start node %q not registered", f.name, name)
	}
	f.start = name
	return nil
}

// Connect wires an edge from one registered node to another. Referencing
// an unregistered endpoint is a configuration error surfaced here, before
// any run.
func (f *Flow) Connect(from string, edge Edge, to string) error {
	if _, ok := f.nodes[from]; !ok {
		return fmt.Errorf("flow %q: edge %q from unregistered node %q", f.name, edge, from)
	}
	if _, ok := f.nodes[to]; !ok {
		return fmt.Errorf("flow %q: edge %q to unregistered node %q", f.name, edge, to)
	}
	if edge == End {
		return fmt.Errorf("flow %q: the terminal edge cannot be connected", f.name)
	}
	if f.edges[from] == nil {
		f.edges[from] = make(map[Edge]string)
	}
	if existing, dup := f.edges[from][edge]; dup {
		return fmt.Errorf("flow %q: edge %q from %q already targets %q", f.name, edge, from, existing)
	}
	f.edges[from][edge] = to
	return nil
}

// Run executes the flow from the start node and returns the shared state
// after the terminal node. Failures carry the failing node's identity as a
// *NodeExecutionError; a node selecting an unconnected edge fails with
// *UndefinedEdgeError.
func (f *Flow) Run(ctx context.Context, shared Shared) (Shared, error) {
	if f.start == "" {
		return shared, fmt.Errorf("flow %q: no nodes registered", f.name)
	}
	if shared == nil {
		shared = NewShared()
	}

	runID := uuid.NewString()
	mode := detectMode(f.mode, f.nodes)
	logger := f.logger.With("flow", f.name, "run_id", runID, "mode", mode.String())
	logger.Info("flow started", "start", f.start)
	started := time.Now()

	current := f.start
	for steps := 0; ; steps++ {
		if steps >= f.maxSteps {
			err := fmt.Errorf("flow %q: exceeded %d steps, wiring cycle suspected", f.name, f.maxSteps)
			f.observeRun("error", time.Since(started))
			return shared, err
		}
		if err := ctx.Err(); err != nil {
			f.observeRun("cancelled", time.Since(started))
			return shared, err
		}

		node := f.nodes[current]
		edge, err := f.runNode(ctx, mode, node, shared)
		if err != nil {
			logger.Error("flow failed", "node", current, "err", err)
			f.observeRun("error", time.Since(started))
			return shared, err
		}

		if edge == End {
			logger.Info("flow completed", "steps", steps+1, "elapsed", time.Since(started))
			f.observeRun("success", time.Since(started))
			return shared, nil
		}
		next, ok := f.edges[current][edge]
		if !ok {
			err := &UndefinedEdgeError{Flow: f.name, Node: current, Edge: edge}
			logger.Error("flow failed", "node", current, "err", err)
			f.observeRun("error", time.Since(started))
			return shared, err
		}
		logger.Debug("edge taken", "from", current, "edge", string(edge), "to", next)
		current = next
	}
}

// runNode drives one node through prep, exec and post.
func (f *Flow) runNode(ctx context.Context, mode Mode, node Node, shared Shared) (Edge, error) {
	name := node.Name()
	var timer *metrics.Timer
	if f.metrics != nil {
		timer = f.metrics.Timer("flow_node", metrics.Tags{"flow": f.name, "node": name})
	}

	edge, err := f.runNodeInner(ctx, mode, node, shared)
	if timer != nil {
		timer.Stop(err)
	}
	return edge, err
}

func (f *Flow) runNodeInner(ctx context.Context, mode Mode, node Node, shared Shared) (Edge, error) {
	if batch, ok := node.(BatchNode); ok {
		return f.runBatchNode(ctx, mode, batch, shared)
	}

	prep, err := node.Prep(ctx, shared)
	if err != nil {
		return End, &NodeExecutionError{Flow: f.name, Node: node.Name(), Err: fmt.Errorf("prep: %w", err)}
	}

	result, err := f.execNode(ctx, mode, node, prep)
	if err != nil {
		return End, &NodeExecutionError{Flow: f.name, Node: node.Name(), Err: err}
	}

	edge, err := node.Post(ctx, shared, prep, result)
	if err != nil {
		return End, &NodeExecutionError{Flow: f.name, Node: node.Name(), Err: fmt.Errorf("post: %w", err)}
	}
	return edge, nil
}

// execNode invokes the exec step under the scheduling mode, wrapped in the
// retry executor when one is configured.
func (f *Flow) execNode(ctx context.Context, mode Mode, node Node, prep any) (any, error) {
	invoke := func(ctx context.Context) (any, error) {
		return f.dispatch(ctx, mode, node, prep)
	}
	if f.executor == nil {
		return invoke(ctx)
	}

	var result any
	err := f.executor.Do(ctx, operationName(node), func(ctx context.Context) error {
		var execErr error
		result, execErr = invoke(ctx)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// dispatch is the single place sync and async scheduling differ. Sync is a
// direct blocking call; async suspends on the exec outcome or the context,
// preferring ExecAsync when the node provides one.
func (f *Flow) dispatch(ctx context.Context, mode Mode, node Node, prep any) (any, error) {
	if mode == ModeSync {
		return node.Exec(ctx, prep)
	}

	exec := node.Exec
	if async, ok := node.(AsyncExecutor); ok {
		exec = async.ExecAsync
	}

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := exec(ctx, prep)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		return out.result, out.err
	}
}

func operationName(node Node) string {
	if op, ok := node.(Operation); ok {
		return op.Operation()
	}
	return node.Name()
}

func (f *Flow) observeRun(outcome string, elapsed time.Duration) {
	if f.metrics == nil {
		return
	}
	tags := metrics.Tags{"flow": f.name, "outcome": outcome}
	f.metrics.Increment("flow_runs_total", tags)
	f.metrics.Observe("flow_run_duration_seconds", elapsed.Seconds(), metrics.Tags{"flow": f.name})
}

// IsConfigError reports whether err is a wiring problem rather than an
// operational failure.
func IsConfigError(err error) bool {
	var undefined *UndefinedEdgeError
	return errors.As(err, &undefined)
}
