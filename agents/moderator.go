package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agrosense/agrosense/llm"
	"github.com/agrosense/agrosense/types"
)

const personaModerator = "Tu es le modérateur d'un panel d'experts agricoles. Tu compares leurs analyses. " +
	"Quand deux experts se contredisent sur un fait, tu exposes explicitement les deux positions puis tu " +
	"formules une recommandation motivée : tu ne tranches jamais en silence. Tu conserves les références citées."

// RoleModerator identifies the synthesis role that reconciles
// disagreeing expert outputs in debate mode.
const RoleModerator types.AgentRole = "moderator"

// Moderator runs the final reconciliation pass of a debate.
type Moderator struct {
	provider llm.Provider
	model    string
	logger   *zap.Logger
}

// NewModerator creates a moderator over the given provider.
func NewModerator(provider llm.Provider, model string, logger *zap.Logger) *Moderator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Moderator{
		provider: provider,
		model:    model,
		logger:   logger.With(zap.String("agent", string(RoleModerator))),
	}
}

// Moderate produces one reconciled statement from the experts' final
// positions. The result keeps every input citation; its confidence is
// the best input confidence, since the moderator adds no new facts.
func (m *Moderator) Moderate(ctx context.Context, query types.Query, results []types.AgentResult) (types.AgentResult, error) {
	if len(results) == 0 {
		return types.AgentResult{}, fmt.Errorf("moderator: no expert results to reconcile")
	}
	start := time.Now()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\n", query.Text)
	for _, r := range results {
		fmt.Fprintf(&sb, "Position de l'expert %s (confiance %.2f):\n%s\n\n", r.Role, r.Confidence, r.Text)
	}
	sb.WriteString("Rédige la réponse finale du panel.")

	resp, err := m.provider.Completion(ctx, &llm.ChatRequest{
		TraceID: query.ID,
		Model:   m.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: personaModerator},
			{Role: llm.RoleUser, Content: sb.String()},
		},
	})
	if err != nil {
		return types.AgentResult{}, fmt.Errorf("moderator completion: %w", err)
	}

	best := results[0].Confidence
	var citations []types.Citation
	for _, r := range results {
		if r.Confidence > best {
			best = r.Confidence
		}
		citations = append(citations, r.Citations...)
	}

	return types.AgentResult{
		Role:       RoleModerator,
		Text:       resp.Content,
		Confidence: best,
		Citations:  citations,
		Duration:   time.Since(start),
	}, nil
}
