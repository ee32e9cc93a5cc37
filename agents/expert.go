package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agrosense/agrosense/llm"
	"github.com/agrosense/agrosense/types"
)

// maxContextTurns bounds how much conversation history goes into the
// prompt; the memory manager already trims the window by token budget,
// this is a second guard at the prompt level.
const maxContextTurns = 6

// Expert is the shared implementation behind every role. A role is a
// persona plus a tool set; the response pipeline is identical.
type Expert struct {
	role    types.AgentRole
	persona string
	tools   []string

	provider  llm.Provider
	retriever Retriever
	model     string
	logger    *zap.Logger
}

// NewExpert creates an expert for role with the given persona prompt.
func NewExpert(role types.AgentRole, persona string, tools []string, provider llm.Provider, retriever Retriever, model string, logger *zap.Logger) *Expert {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expert{
		role:      role,
		persona:   persona,
		tools:     tools,
		provider:  provider,
		retriever: retriever,
		model:     model,
		logger:    logger.With(zap.String("agent", string(role))),
	}
}

func (e *Expert) Role() types.AgentRole { return e.role }

func (e *Expert) Tools() []string { return e.tools }

// Respond builds the prompt from the query, the conversation window,
// retrieved passages and the executor's tool results, then calls the
// provider once.
func (e *Expert) Respond(ctx context.Context, req Request) (types.AgentResult, error) {
	start := time.Now()

	passages := e.retrieve(ctx, req)
	messages := e.buildMessages(req, passages)

	resp, err := e.provider.Completion(ctx, &llm.ChatRequest{
		TraceID:  req.Query.ID,
		Model:    e.model,
		Messages: messages,
	})
	if err != nil {
		return types.AgentResult{}, fmt.Errorf("agent %s completion: %w", e.role, err)
	}

	result := types.AgentResult{
		Role:       e.role,
		Text:       resp.Content,
		Confidence: e.confidence(req),
		Citations:  e.citations(req, passages),
		Duration:   time.Since(start),
	}

	e.logger.Debug("agent responded",
		zap.String("query_id", req.Query.ID),
		zap.Float64("confidence", result.Confidence),
		zap.Duration("duration", result.Duration))

	return result, nil
}

func (e *Expert) retrieve(ctx context.Context, req Request) []Passage {
	if e.retriever == nil {
		return nil
	}
	scope := ""
	if req.Query.Farm != nil {
		scope = req.Query.Farm.OrganizationID
	}
	passages, err := e.retriever.Retrieve(ctx, req.Query.Text, scope)
	if err != nil {
		// retrieval is best-effort: the agent still answers from tool
		// results and model knowledge
		e.logger.Warn("retrieval failed", zap.String("query_id", req.Query.ID), zap.Error(err))
		return nil
	}
	return passages
}

func (e *Expert) buildMessages(req Request, passages []Passage) []llm.Message {
	var sb strings.Builder

	turns := req.Context.Turns
	if len(turns) > maxContextTurns {
		turns = turns[len(turns)-maxContextTurns:]
	}
	for _, turn := range turns {
		fmt.Fprintf(&sb, "Utilisateur: %s\nAssistant: %s\n", turn.User.Content, turn.Assistant.Content)
	}
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}

	if req.Query.Farm != nil {
		farm, _ := json.Marshal(req.Query.Farm)
		fmt.Fprintf(&sb, "Contexte exploitation: %s\n\n", farm)
	}

	for _, p := range passages {
		fmt.Fprintf(&sb, "Document (%s): %s\n", p.Source, p.Text)
	}
	if len(passages) > 0 {
		sb.WriteString("\n")
	}

	for _, inv := range req.Invocations {
		if inv.OK() {
			fmt.Fprintf(&sb, "Résultat de l'outil %s: %s\n", inv.Tool, inv.Result)
		} else {
			fmt.Fprintf(&sb, "Outil %s indisponible (%s)\n", inv.Tool, inv.Failure)
		}
	}
	if len(req.Invocations) > 0 {
		sb.WriteString("\n")
	}

	for _, prior := range req.PriorResults {
		fmt.Fprintf(&sb, "Analyse de l'expert %s: %s\n", prior.Role, prior.Text)
	}
	if len(req.PriorResults) > 0 {
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Question: %s", req.Query.Text)

	return []llm.Message{
		{Role: llm.RoleSystem, Content: e.persona},
		{Role: llm.RoleUser, Content: sb.String()},
	}
}

// confidence starts from the routing confidence and degrades with tool
// availability: an expert whose every tool failed still answers, but
// flags its contribution as low-trust so synthesis ranks it last.
func (e *Expert) confidence(req Request) float64 {
	conf := req.Confidence
	if conf <= 0 {
		conf = 0.5
	}

	if len(req.Invocations) > 0 {
		ok := 0
		for _, inv := range req.Invocations {
			if inv.OK() {
				ok++
			}
		}
		switch {
		case ok == len(req.Invocations):
			conf += 0.1
		case ok == 0:
			conf -= 0.3
		default:
			conf -= 0.1
		}
	}

	if conf > 0.95 {
		conf = 0.95
	}
	if conf < 0.1 {
		conf = 0.1
	}
	return conf
}

func (e *Expert) citations(req Request, passages []Passage) []types.Citation {
	var citations []types.Citation
	for _, inv := range req.Invocations {
		if inv.OK() {
			citations = append(citations, types.Citation{Source: inv.Tool})
		}
	}
	for _, p := range passages {
		citations = append(citations, types.Citation{Source: p.Source, Title: p.Source})
	}
	return citations
}
