package flow

// Shared is the mutable state passed through one flow execution. The flow
// creates it, hands it to every node in edge order and returns it to the
// caller after the terminal node. It is owned by a single run: concurrent
// executions must each use their own instance.
type Shared map[string]any

// NewShared creates an empty shared state.
func NewShared() Shared { return make(Shared) }

// GetString returns the string stored under key.
func (s Shared) GetString(key string) (string, bool) {
	v, ok := s[key].(string)
	return v, ok
}

// GetStrings returns the string slice stored under key.
func (s Shared) GetStrings(key string) ([]string, bool) {
	v, ok := s[key].([]string)
	return v, ok
}

// GetInt returns the int stored under key.
func (s Shared) GetInt(key string) (int, bool) {
	v, ok := s[key].(int)
	return v, ok
}

// Clone returns a shallow copy, for seeding independent runs from a
// common template.
func (s Shared) Clone() Shared {
	out := make(Shared, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
