// Package breaker implements a per-dependency circuit breaker. Each
// external dependency (domain tool, provider endpoint) gets its own
// breaker, so an outage in one tool never blocks calls to another.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker state.
type State int

const (
	// StateClosed allows calls through and counts failures.
	StateClosed State = iota
	// StateOpen blocks all calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen allows exactly one probe call.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds breaker tuning. Zero values fall back to defaults.
type Config struct {
	// FailureThreshold is the consecutive-failure count that trips the
	// breaker open.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	// Cooldown is how long an open breaker waits before allowing the
	// half-open probe.
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown"`
}

// DefaultConfig returns the default breaker tuning.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	return c
}

// Event describes one breaker state change.
type Event struct {
	Dependency string    `json:"dependency"`
	OldState   State     `json:"old_state"`
	NewState   State     `json:"new_state"`
	Reason     string    `json:"reason"`
	Failures   int       `json:"failures"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventHandler observes breaker state changes (metrics, logging).
type EventHandler func(Event)

// Breaker guards calls to one external dependency.
type Breaker struct {
	dependency string
	config     Config
	onChange   EventHandler
	logger     *zap.Logger

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool // a half-open probe is in flight
	now         func() time.Time
}

// New creates a breaker for the named dependency.
func New(dependency string, config Config, onChange EventHandler, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		dependency: dependency,
		config:     config.withDefaults(),
		onChange:   onChange,
		logger:     logger.With(zap.String("dependency", dependency)),
		state:      StateClosed,
		now:        time.Now,
	}
}

// Allow reports whether the next call may proceed. When the breaker is
// open and the cooldown has elapsed it transitions to half-open and
// admits exactly one probe; subsequent callers are rejected until the
// probe outcome is recorded.
func (b *Breaker) Allow() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true, nil

	case StateOpen:
		if b.now().Sub(b.lastFailure) >= b.config.Cooldown {
			b.transition(StateHalfOpen, "cooldown elapsed")
			b.probing = true
			return true, nil
		}
		return false, fmt.Errorf("circuit open for %s: %d consecutive failures, retry in %v",
			b.dependency, b.failures, b.config.Cooldown-b.now().Sub(b.lastFailure))

	case StateHalfOpen:
		if !b.probing {
			b.probing = true
			return true, nil
		}
		return false, fmt.Errorf("circuit half-open for %s: probe in flight", b.dependency)

	default:
		return false, fmt.Errorf("unknown circuit state %d for %s", b.state, b.dependency)
	}
}

// RecordSuccess records a successful call. A successful half-open
// probe closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.transition(StateClosed, "probe succeeded")
		b.failures = 0
		b.probing = false
	}
}

// RecordFailure records a failed call. In closed state it trips the
// breaker once the threshold is reached; in half-open state any
// failure reopens the breaker and restarts the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.config.FailureThreshold {
			b.transition(StateOpen, fmt.Sprintf("%d consecutive failures", b.failures))
		}
	case StateHalfOpen:
		b.transition(StateOpen, "probe failed")
		b.probing = false
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateClosed {
		b.transition(StateClosed, "manual reset")
	}
	b.failures = 0
	b.probing = false
}

// transition must be called with b.mu held.
func (b *Breaker) transition(newState State, reason string) {
	old := b.state
	b.state = newState

	b.logger.Info("circuit state change",
		zap.String("old_state", old.String()),
		zap.String("new_state", newState.String()),
		zap.String("reason", reason),
		zap.Int("failures", b.failures))

	if b.onChange != nil {
		ev := Event{
			Dependency: b.dependency,
			OldState:   old,
			NewState:   newState,
			Reason:     reason,
			Failures:   b.failures,
			Timestamp:  b.now(),
		}
		// handlers run outside the lock
		go b.onChange(ev)
	}
}
