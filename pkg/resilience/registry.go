package resilience

import "sync"

// Registry holds one Breaker per protected operation name, created lazily
// on first use so multiple call sites sharing a name share breaker state.
// Construct one at process start and pass it to every component that needs
// it; there is no package-level instance.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	defaults BreakerConfig
	opts     []BreakerOption
}

// NewRegistry creates a Registry whose breakers use defaults and opts.
func NewRegistry(defaults BreakerConfig, opts ...BreakerOption) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults.withDefaults(),
		opts:     opts,
	}
}

// Get returns the breaker for name, creating it with the registry defaults
// if absent. The registry lock covers only the lazy-create path; breaker
// state is guarded by the breaker's own mutex.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(name, r.defaults, r.opts...)
		r.breakers[name] = b
	}
	return b
}

// Stats returns a stats snapshot for every registered breaker.
func (r *Registry) Stats() map[string]BreakerStats {
	r.mu.Lock()
	names := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		names = append(names, b)
	}
	r.mu.Unlock()

	out := make(map[string]BreakerStats, len(names))
	for _, b := range names {
		out[b.Name()] = b.Stats()
	}
	return out
}

// ResetAll resets every registered breaker. Used by tests.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	for _, b := range breakers {
		b.Reset()
	}
}
