// Package router maps a raw query plus conversation context to one or
// more candidate agent roles with confidence scores. Classification is
// a pure function over its inputs and a versioned ruleset; it never
// fails, falling back to the general role at confidence 0.
package router

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/agrosense/agrosense/types"
)

// Version identifies the ruleset baked into this build. It is recorded
// on every RoutingDecision for audit.
const Version = "rules-v1"

// Config holds the classification thresholds. They are tunable; the
// defaults match production behavior.
type Config struct {
	// BaseThreshold is the minimum confidence for a role to become a
	// candidate at all.
	BaseThreshold float64 `json:"base_threshold" yaml:"base_threshold"`
	// CoActivation is the confidence both roles must clear for a
	// multi-role execution mode.
	CoActivation float64 `json:"co_activation" yaml:"co_activation"`
	// ContextWeight scales keyword hits found in the previous user
	// turn rather than the current query.
	ContextWeight float64 `json:"context_weight" yaml:"context_weight"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		BaseThreshold: 0.5,
		CoActivation:  0.7,
		ContextWeight: 0.3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseThreshold <= 0 {
		c.BaseThreshold = d.BaseThreshold
	}
	if c.CoActivation <= 0 {
		c.CoActivation = d.CoActivation
	}
	if c.ContextWeight <= 0 {
		c.ContextWeight = d.ContextWeight
	}
	return c
}

// Classifier scores a query against the role catalog.
type Classifier struct {
	catalog *Catalog
	config  Config
	logger  *zap.Logger
}

// NewClassifier creates a classifier over the given catalog.
func NewClassifier(catalog *Catalog, config Config, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		catalog: catalog,
		config:  config.withDefaults(),
		logger:  logger.With(zap.String("component", "classifier")),
	}
}

// Classify produces the routing decision for one query. It consults
// the current query text and, at reduced weight, the previous user
// turn, so follow-up questions stay with the same expert.
func (c *Classifier) Classify(query types.Query, convCtx types.ConversationContext) types.RoutingDecision {
	text := normalize(query.Text)
	prior := normalize(convCtx.LastUserText())

	var candidates []types.RoleScore
	for _, profile := range c.catalog.Profiles() {
		score := c.score(profile, text, prior)
		if score >= c.config.BaseThreshold {
			candidates = append(candidates, types.RoleScore{Role: profile.Role, Confidence: score})
		}
	}

	// descending confidence; registration order breaks ties
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return c.catalog.Order(candidates[i].Role) < c.catalog.Order(candidates[j].Role)
	})

	decision := types.RoutingDecision{
		QueryID:           query.ID,
		Candidates:        candidates,
		Mode:              c.mode(candidates),
		ClassifierVersion: Version,
	}

	if len(candidates) == 0 {
		decision.Candidates = []types.RoleScore{{Role: types.RoleGeneral, Confidence: 0}}
		decision.Mode = types.ModeSingle
	}

	c.logger.Debug("query classified",
		zap.String("query_id", query.ID),
		zap.Any("candidates", decision.Candidates),
		zap.String("mode", string(decision.Mode)))

	return decision
}

// score accumulates keyword weights for one profile, clamped to 1.
func (c *Classifier) score(profile RoleProfile, text, prior string) float64 {
	var score float64
	for _, kw := range profile.Keywords {
		term := normalize(kw.Term)
		if strings.Contains(text, term) {
			score += kw.Weight
		} else if prior != "" && strings.Contains(prior, term) {
			score += kw.Weight * c.config.ContextWeight
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}

// mode decides the execution mode from the scored candidates. Two or
// more roles above the co-activation threshold run together:
// sequentially when their catalog precedences differ (the earlier
// role's output feeds the later one), in parallel when they are
// independent peers.
func (c *Classifier) mode(candidates []types.RoleScore) types.ExecutionMode {
	var active []types.RoleScore
	for _, cand := range candidates {
		if cand.Confidence >= c.config.CoActivation {
			active = append(active, cand)
		}
	}
	if len(active) < 2 {
		return types.ModeSingle
	}

	precedences := make(map[int]struct{}, len(active))
	for _, cand := range active {
		if p, ok := c.catalog.Profile(cand.Role); ok {
			precedences[p.Precedence] = struct{}{}
		}
	}
	if len(precedences) > 1 {
		return types.ModeSequential
	}
	return types.ModeParallel
}

// normalize lowercases and collapses whitespace so keyword matching is
// case- and spacing-insensitive. Accents are preserved: the catalog
// lists accented and unaccented variants explicitly where needed.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
