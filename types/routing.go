package types

// AgentRole identifies one specialist responder in the catalog.
type AgentRole string

const (
	RoleWeather        AgentRole = "weather"
	RoleRegulatory     AgentRole = "regulatory"
	RoleCropHealth     AgentRole = "crop_health"
	RolePlanning       AgentRole = "planning"
	RoleSustainability AgentRole = "sustainability"
	RoleFarmData       AgentRole = "farm_data"
	RoleSearch         AgentRole = "search"
	// RoleGeneral is the fallback role used when no specialist clears
	// the classification threshold. Classification never fails: at
	// worst it routes here with confidence 0.
	RoleGeneral AgentRole = "general"
)

// ExecutionMode describes how the selected agent groups run.
type ExecutionMode string

const (
	ModeSingle     ExecutionMode = "single"
	ModeParallel   ExecutionMode = "parallel"
	ModeSequential ExecutionMode = "sequential"
	ModeDebate     ExecutionMode = "debate"
)

// RoleScore is one classifier candidate with its confidence.
type RoleScore struct {
	Role       AgentRole `json:"role"`
	Confidence float64   `json:"confidence"`
}

// RoutingDecision is the classifier output for one query. Created once
// per query and immutable; it is attached to the workflow state for
// audit.
type RoutingDecision struct {
	QueryID string `json:"query_id"`
	// Candidates are ordered by descending confidence; ties keep
	// catalog registration order.
	Candidates []RoleScore   `json:"candidates"`
	Mode       ExecutionMode `json:"mode"`
	// ClassifierVersion records the ruleset version that produced the
	// decision.
	ClassifierVersion string `json:"classifier_version"`
}

// Primary returns the highest-confidence candidate.
func (d RoutingDecision) Primary() RoleScore {
	if len(d.Candidates) == 0 {
		return RoleScore{Role: RoleGeneral}
	}
	return d.Candidates[0]
}

// AgentGroup is one agent plus the tools it needs for this query.
type AgentGroup struct {
	Role       AgentRole `json:"role"`
	Confidence float64   `json:"confidence"`
	Tools      []string  `json:"tools,omitempty"`
}

// ExecutionPlan is the ordered set of agent groups for one query.
// Deterministic for a given RoutingDecision.
type ExecutionPlan struct {
	QueryID string        `json:"query_id"`
	Mode    ExecutionMode `json:"mode"`
	Groups  []AgentGroup  `json:"groups"`
}

// Roles returns the planned roles in execution order.
func (p ExecutionPlan) Roles() []AgentRole {
	roles := make([]AgentRole, len(p.Groups))
	for i, g := range p.Groups {
		roles[i] = g.Role
	}
	return roles
}
