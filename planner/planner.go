// Package planner turns a routing decision into a concrete execution
// plan: which agent groups run, in what order, with which tools.
package planner

import (
	"sort"

	"go.uber.org/zap"

	"github.com/agrosense/agrosense/router"
	"github.com/agrosense/agrosense/types"
)

// RoleDirectory reports which agent roles are actually registered.
// The agent registry implements it; tests use a map.
type RoleDirectory interface {
	Has(role types.AgentRole) bool
}

// Config holds planner tuning.
type Config struct {
	// CoActivation mirrors the classifier threshold: in multi-role
	// modes only candidates at or above it become groups.
	CoActivation float64 `json:"co_activation" yaml:"co_activation"`
	// DebateMinAgents upgrades a parallel plan to debate when at
	// least this many groups clear co-activation. Zero keeps
	// same-tier peers parallel.
	DebateMinAgents int `json:"debate_min_agents" yaml:"debate_min_agents"`
}

// DefaultConfig returns the default planner tuning.
func DefaultConfig() Config {
	return Config{CoActivation: 0.7}
}

// Planner builds execution plans. Planning is deterministic: the same
// routing decision always yields the same plan, with catalog
// registration order as the tie-break.
type Planner struct {
	catalog   *router.Catalog
	directory RoleDirectory
	config    Config
	logger    *zap.Logger
}

// New creates a planner over the given catalog and role directory.
func New(catalog *router.Catalog, directory RoleDirectory, config Config, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.CoActivation <= 0 {
		config.CoActivation = DefaultConfig().CoActivation
	}
	return &Planner{
		catalog:   catalog,
		directory: directory,
		config:    config,
		logger:    logger.With(zap.String("component", "planner")),
	}
}

// Plan builds the execution plan for a routing decision. It fails with
// an UNKNOWN_AGENT_ROLE coded error when the decision names a role no
// agent is registered for; that error is fatal for the query.
func (p *Planner) Plan(decision types.RoutingDecision) (types.ExecutionPlan, error) {
	for _, cand := range decision.Candidates {
		if !p.directory.Has(cand.Role) {
			return types.ExecutionPlan{}, types.NewError(types.ErrCodeUnknownRole,
				"no agent registered for role %q", cand.Role)
		}
	}

	plan := types.ExecutionPlan{QueryID: decision.QueryID, Mode: decision.Mode}

	switch decision.Mode {
	case types.ModeSingle, "":
		plan.Mode = types.ModeSingle
		plan.Groups = []types.AgentGroup{p.group(decision.Primary())}

	case types.ModeParallel, types.ModeDebate:
		plan.Groups = p.activeGroups(decision)
		if plan.Mode == types.ModeParallel &&
			p.config.DebateMinAgents > 0 && len(plan.Groups) >= p.config.DebateMinAgents {
			plan.Mode = types.ModeDebate
		}
		// a debate needs at least two voices
		if plan.Mode == types.ModeDebate && len(plan.Groups) < 2 {
			plan.Mode = types.ModeSingle
		}

	case types.ModeSequential:
		groups := p.activeGroups(decision)
		// precedence tier ordering: producers before consumers
		sort.SliceStable(groups, func(i, j int) bool {
			pi, _ := p.catalog.Profile(groups[i].Role)
			pj, _ := p.catalog.Profile(groups[j].Role)
			if pi.Precedence != pj.Precedence {
				return pi.Precedence < pj.Precedence
			}
			return p.catalog.Order(groups[i].Role) < p.catalog.Order(groups[j].Role)
		})
		plan.Groups = groups

	default:
		return types.ExecutionPlan{}, types.NewError(types.ErrCodePlanning,
			"unknown execution mode %q", decision.Mode)
	}

	if len(plan.Groups) == 0 {
		return types.ExecutionPlan{}, types.NewError(types.ErrCodePlanning,
			"routing decision for query %s produced no agent groups", decision.QueryID)
	}

	p.logger.Debug("plan built",
		zap.String("query_id", decision.QueryID),
		zap.String("mode", string(plan.Mode)),
		zap.Any("roles", plan.Roles()))

	return plan, nil
}

// activeGroups keeps candidates at or above the co-activation
// threshold, preserving the decision's confidence ordering. When fewer
// than two clear it (a mode chosen on stale thresholds), it degrades
// to the primary candidate alone.
func (p *Planner) activeGroups(decision types.RoutingDecision) []types.AgentGroup {
	var groups []types.AgentGroup
	for _, cand := range decision.Candidates {
		if cand.Confidence >= p.config.CoActivation {
			groups = append(groups, p.group(cand))
		}
	}
	if len(groups) < 2 {
		return []types.AgentGroup{p.group(decision.Primary())}
	}
	return groups
}

func (p *Planner) group(cand types.RoleScore) types.AgentGroup {
	g := types.AgentGroup{Role: cand.Role, Confidence: cand.Confidence}
	if profile, ok := p.catalog.Profile(cand.Role); ok {
		g.Tools = append(g.Tools, profile.Tools...)
	}
	return g
}
