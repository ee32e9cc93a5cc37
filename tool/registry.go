package tool

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/time/rate"
)

// Registry resolves tool names to implementations. It is populated at
// startup and read-mostly afterwards; tests construct isolated
// registries instead of sharing a package-level one.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	limiters map[string]*rate.Limiter
	// defaultRate applies to tools registered without an explicit
	// limiter. Zero disables rate limiting.
	defaultRate rate.Limit
	burst       int
}

// NewRegistry creates an empty registry. rps caps calls per second per
// tool towards its downstream API; rps <= 0 disables the limiter.
func NewRegistry(rps float64, burst int) *Registry {
	if burst <= 0 {
		burst = 1
	}
	return &Registry{
		tools:       make(map[string]Tool),
		limiters:    make(map[string]*rate.Limiter),
		defaultRate: rate.Limit(rps),
		burst:       burst,
	}
}

// Register adds a tool. Registering a duplicate name is an error so
// configuration mistakes surface at startup, not at call time.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool with empty name")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	if r.defaultRate > 0 {
		r.limiters[name] = rate.NewLimiter(r.defaultRate, r.burst)
	}
	return nil
}

// Get resolves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Limiter returns the rate limiter for a tool, or nil when rate
// limiting is disabled.
func (r *Registry) Limiter(name string) *rate.Limiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiters[name]
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns the schemas of all registered tools, sorted by name.
func (r *Registry) Schemas() []Schema {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]Schema, 0, len(names))
	for _, name := range names {
		schemas = append(schemas, r.tools[name].Schema())
	}
	return schemas
}
