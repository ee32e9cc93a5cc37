// Package agents implements the specialist responder roles. Every role
// is the same Expert machinery behind a role-specific persona and tool
// set, registered in a static table built at startup; the orchestrator
// only sees the Agent interface and the registry.
package agents

import (
	"context"
	"sort"
	"sync"

	"github.com/agrosense/agrosense/types"
)

// Request carries everything an agent needs for one response.
type Request struct {
	Query   types.Query
	Context types.ConversationContext
	// Invocations are the tool results the executor gathered for this
	// agent's group, successes and failures both.
	Invocations []types.ToolInvocation
	// PriorResults are earlier experts' outputs in sequential and
	// debate modes, empty otherwise.
	PriorResults []types.AgentResult
	// Confidence is the routing confidence for this agent's group; the
	// agent adjusts it by tool availability.
	Confidence float64
}

// Agent is one specialist responder.
type Agent interface {
	// Role returns the agent's catalog role.
	Role() types.AgentRole
	// Tools returns the registry keys of the tools the agent needs.
	Tools() []string
	// Respond produces the agent's contribution for one query.
	Respond(ctx context.Context, req Request) (types.AgentResult, error)
}

// Passage is one retrieved knowledge-base excerpt.
type Passage struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// Retriever is the knowledge/document store interface agents consult
// when building their prompts. The orchestrator passes it through and
// never calls it directly.
type Retriever interface {
	Retrieve(ctx context.Context, query string, scope string) ([]Passage, error)
}

// Registry holds the agents keyed by role. Populated at startup,
// read-only afterwards; safe for concurrent reads.
type Registry struct {
	mu     sync.RWMutex
	agents map[types.AgentRole]Agent
	order  []types.AgentRole
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[types.AgentRole]Agent)}
}

// Register adds an agent. Later registrations for the same role are
// ignored so the default table cannot be shadowed accidentally.
func (r *Registry) Register(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[a.Role()]; exists {
		return
	}
	r.agents[a.Role()] = a
	r.order = append(r.order, a.Role())
}

// Get resolves an agent by role.
func (r *Registry) Get(role types.AgentRole) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[role]
	return a, ok
}

// Has implements the planner's role directory.
func (r *Registry) Has(role types.AgentRole) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[role]
	return ok
}

// Roles returns the registered roles in registration order.
func (r *Registry) Roles() []types.AgentRole {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.AgentRole, len(r.order))
	copy(out, r.order)
	return out
}

// SortedRoles returns the registered roles sorted lexically, for
// stable logs and health output.
func (r *Registry) SortedRoles() []types.AgentRole {
	roles := r.Roles()
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}
