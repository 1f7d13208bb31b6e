package flow

// Mode selects how node exec steps are scheduled.
type Mode int

const (
	// ModeAuto picks asynchronous scheduling when any registered node
	// implements AsyncExecutor, synchronous otherwise.
	ModeAuto Mode = iota
	// ModeSync invokes each exec as a direct blocking call.
	ModeSync
	// ModeAsync dispatches each exec as a cooperative suspension point:
	// the engine waits on completion or context cancellation, and batch
	// items run concurrently under the configured cap.
	ModeAsync
)

func (m Mode) String() string {
	switch m {
	case ModeSync:
		return "sync"
	case ModeAsync:
		return "async"
	default:
		return "auto"
	}
}

// detectMode resolves ModeAuto against the registered node set: any node
// that suspends (AsyncExecutor) or fans out (BatchNode) selects async
// scheduling. Explicit modes pass through untouched.
func detectMode(m Mode, nodes map[string]Node) Mode {
	if m != ModeAuto {
		return m
	}
	for _, n := range nodes {
		if _, ok := n.(AsyncExecutor); ok {
			return ModeAsync
		}
		if _, ok := n.(BatchNode); ok {
			return ModeAsync
		}
	}
	return ModeSync
}
