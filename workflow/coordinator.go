package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/agrosense/agrosense/agents"
	"github.com/agrosense/agrosense/types"
)

// GroupRunner executes one agent group (its tools plus the agent
// itself, with the engine's retry policy) and returns the agent's
// result. The coordinator composes group runs into multi-agent
// protocols without owning retries or tool execution.
type GroupRunner func(ctx context.Context, group types.AgentGroup, prior []types.AgentResult) (types.AgentResult, error)

// CoordinatorConfig holds multi-agent tuning.
type CoordinatorConfig struct {
	// MaxRounds caps total expert plus moderator rounds, bounding
	// latency; past the cap the best-confidence result gathered so far
	// wins.
	MaxRounds int `json:"max_rounds" yaml:"max_rounds"`
}

// DefaultCoordinatorConfig returns the default coordination tuning.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{MaxRounds: 4}
}

// Coordinator runs the sequential and debate protocols when a plan has
// more than one agent group.
type Coordinator struct {
	moderator *agents.Moderator
	config    CoordinatorConfig
	logger    *zap.Logger
}

// NewCoordinator creates a coordinator.
func NewCoordinator(moderator *agents.Moderator, config CoordinatorConfig, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxRounds <= 0 {
		config.MaxRounds = DefaultCoordinatorConfig().MaxRounds
	}
	return &Coordinator{
		moderator: moderator,
		config:    config,
		logger:    logger.With(zap.String("component", "coordinator")),
	}
}

// Sequential runs the groups in plan order, forwarding every earlier
// result as context to the next expert. Failed groups are skipped:
// their absence degrades the answer, it does not abort it.
func (c *Coordinator) Sequential(ctx context.Context, query types.Query, groups []types.AgentGroup, run GroupRunner) []types.AgentResult {
	var results []types.AgentResult
	for _, group := range groups {
		if ctx.Err() != nil {
			break
		}
		result, err := run(ctx, group, results)
		if err != nil {
			c.logger.Warn("sequential group failed",
				zap.String("query_id", query.ID),
				zap.String("role", string(group.Role)),
				zap.Error(err))
			continue
		}
		results = append(results, result)
	}
	return results
}

// Debate gives each expert one round in plan order, showing it the
// other experts' latest statements, then runs the moderator's
// reconciliation pass. When the round budget runs out before the
// moderator can run, the best-confidence statement gathered so far is
// returned alone.
func (c *Coordinator) Debate(ctx context.Context, query types.Query, groups []types.AgentGroup, run GroupRunner) ([]types.AgentResult, error) {
	if len(groups) < 2 {
		return nil, fmt.Errorf("debate needs at least two agent groups, got %d", len(groups))
	}

	rounds := 0
	var statements []types.AgentResult

	for _, group := range groups {
		if rounds >= c.config.MaxRounds || ctx.Err() != nil {
			break
		}
		rounds++
		result, err := run(ctx, group, statements)
		if err != nil {
			c.logger.Warn("debate statement failed",
				zap.String("query_id", query.ID),
				zap.String("role", string(group.Role)),
				zap.Error(err))
			continue
		}
		statements = append(statements, result)
	}

	if len(statements) == 0 {
		return nil, fmt.Errorf("debate produced no statements")
	}

	if rounds >= c.config.MaxRounds {
		best := statements[0]
		for _, s := range statements[1:] {
			if s.Confidence > best.Confidence {
				best = s
			}
		}
		c.logger.Info("debate truncated at round cap",
			zap.String("query_id", query.ID),
			zap.Int("rounds", rounds),
			zap.String("kept", string(best.Role)))
		return []types.AgentResult{best}, nil
	}

	verdict, err := c.moderator.Moderate(ctx, query, statements)
	if err != nil {
		// the moderator adds reconciliation, not facts; losing it
		// degrades to the raw statements
		c.logger.Warn("moderator failed, keeping raw statements",
			zap.String("query_id", query.ID), zap.Error(err))
		return statements, nil
	}
	return []types.AgentResult{verdict}, nil
}
