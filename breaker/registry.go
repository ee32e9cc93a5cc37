package breaker

import (
	"sync"

	"go.uber.org/zap"
)

// Registry manages one breaker per dependency. It is the single piece
// of mutable state shared across concurrent queries; entries carry
// their own locks so unrelated dependencies never contend.
type Registry struct {
	config   Config
	onChange EventHandler
	logger   *zap.Logger

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates a breaker registry with shared tuning.
func NewRegistry(config Config, onChange EventHandler, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		config:   config,
		onChange: onChange,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for dependency, creating it on first use.
func (r *Registry) Get(dependency string) *Breaker {
	r.mu.RLock()
	if b, ok := r.breakers[dependency]; ok {
		r.mu.RUnlock()
		return b
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[dependency]; ok {
		return b
	}
	b := New(dependency, r.config, r.onChange, r.logger)
	r.breakers[dependency] = b
	return b
}

// States snapshots all breaker states, keyed by dependency.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	states := make(map[string]State, len(r.breakers))
	for dep, b := range r.breakers {
		states[dep] = b.State()
	}
	return states
}

// ResetAll forces every breaker back to closed.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}
