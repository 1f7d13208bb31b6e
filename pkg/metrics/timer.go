package metrics

import "time"

// Timer measures elapsed wall-clock time for one operation and records both
// the duration histogram and a success/failure counter when stopped.
type Timer struct {
	c     *Collector
	name  string
	tags  Tags
	start time.Time
	done  bool
}

// Timer starts a scoped measurement. Call Stop exactly once with the
// operation's final error (nil for success).
func (c *Collector) Timer(name string, tags Tags) *Timer {
	return &Timer{c: c, name: name, tags: tags, start: c.now()}
}

// Stop records the elapsed duration under <name>_duration_seconds and
// increments <name>_success or <name>_errors depending on err. Subsequent
// calls are no-ops.
func (t *Timer) Stop(err error) time.Duration {
	elapsed := t.c.now().Sub(t.start)
	if t.done {
		return elapsed
	}
	t.done = true

	t.c.Observe(t.name+"_duration_seconds", elapsed.Seconds(), t.tags)
	if err != nil {
		t.c.Increment(t.name+"_errors", t.tags)
	} else {
		t.c.Increment(t.name+"_success", t.tags)
	}
	return elapsed
}
