package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agrosense/agrosense/agents"
	"github.com/agrosense/agrosense/breaker"
	"github.com/agrosense/agrosense/internal/metrics"
	"github.com/agrosense/agrosense/memory"
	"github.com/agrosense/agrosense/planner"
	"github.com/agrosense/agrosense/router"
	"github.com/agrosense/agrosense/stream"
	"github.com/agrosense/agrosense/types"
)

// EngineConfig holds the per-query lifecycle tuning.
type EngineConfig struct {
	// QueryDeadline bounds one query end to end, independent of the
	// per-tool timeouts.
	QueryDeadline time.Duration `json:"query_deadline" yaml:"query_deadline"`
	// GroupRetries is how many times a failed agent group is retried
	// before its contribution is dropped.
	GroupRetries int `json:"group_retries" yaml:"group_retries"`
	// RetryBackoff is the base of the exponential backoff between
	// group retries.
	RetryBackoff time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
}

// DefaultEngineConfig returns the default lifecycle tuning.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		QueryDeadline: 30 * time.Second,
		GroupRetries:  2,
		RetryBackoff:  250 * time.Millisecond,
	}
}

func (c EngineConfig) withDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if c.QueryDeadline <= 0 {
		c.QueryDeadline = d.QueryDeadline
	}
	switch {
	case c.GroupRetries == 0:
		c.GroupRetries = d.GroupRetries
	case c.GroupRetries < 0:
		c.GroupRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	return c
}

// Engine drives one query through
// received -> classified -> executing -> synthesizing -> complete,
// with failed reachable from every non-terminal state. It is the
// single writer of the WorkflowState.
type Engine struct {
	classifier  *router.Classifier
	planner     *planner.Planner
	registry    *agents.Registry
	executor    *Executor
	coordinator *Coordinator
	synthesizer *Synthesizer
	breakers    *breaker.Registry
	memory      memory.Manager
	config      EngineConfig
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewEngine wires the workflow engine.
func NewEngine(
	classifier *router.Classifier,
	pl *planner.Planner,
	registry *agents.Registry,
	executor *Executor,
	coordinator *Coordinator,
	synthesizer *Synthesizer,
	breakers *breaker.Registry,
	mem memory.Manager,
	config EngineConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		classifier:  classifier,
		planner:     pl,
		registry:    registry,
		executor:    executor,
		coordinator: coordinator,
		synthesizer: synthesizer,
		breakers:    breakers,
		memory:      mem,
		config:      config.withDefaults(),
		metrics:     m,
		logger:      logger.With(zap.String("component", "workflow_engine")),
	}
}

// Run processes one query, emitting events on the session. It always
// leaves the workflow in exactly one terminal state and always sends
// exactly one terminal event.
func (e *Engine) Run(query types.Query, session *stream.Session) *WorkflowState {
	start := time.Now()
	ctx, cancel := context.WithTimeout(session.Context(), e.config.QueryDeadline)
	defer cancel()

	ws := NewWorkflowState(query, start.Add(e.config.QueryDeadline))
	session.Start()

	defer func() {
		e.metrics.QueryFinished(string(ws.Current), time.Since(start))
	}()

	// conversation context; a missing window is not fatal
	convCtx, err := e.memory.Load(ctx, query.ConversationID)
	if err != nil {
		e.logger.Warn("context load failed",
			zap.String("conversation_id", query.ConversationID), zap.Error(err))
		convCtx = types.ConversationContext{ConversationID: query.ConversationID}
	}

	// classification never fails
	ws.Decision = e.classifier.Classify(query, convCtx)
	if err := ws.To(StateClassified, string(ws.Decision.Mode)); err != nil {
		return e.fail(ws, session, types.ErrCodeInternal, err.Error())
	}

	plan, err := e.planner.Plan(ws.Decision)
	if err != nil {
		code := types.CodeOf(err)
		if code != types.ErrCodeUnknownRole {
			code = types.ErrCodePlanning
		}
		return e.fail(ws, session, code, err.Error())
	}
	ws.Plan = plan

	for _, group := range plan.Groups {
		session.AgentSelected(group.Role, fmt.Sprintf("confidence %.2f, mode %s", group.Confidence, plan.Mode))
	}

	if err := ws.To(StateExecuting, ""); err != nil {
		return e.fail(ws, session, types.ErrCodeInternal, err.Error())
	}

	results := e.execute(ctx, ws, convCtx)
	ws.Results = results

	if len(results) == 0 {
		if errors.Is(ctx.Err(), context.Canceled) && session.Context().Err() != nil {
			return e.fail(ws, session, types.ErrCodeCancelled, "client disconnected")
		}
		if ctx.Err() != nil {
			return e.fail(ws, session, types.ErrCodeDeadline, "query deadline elapsed before any expert completed")
		}
		return e.fail(ws, session, types.ErrCodeNoUsableResults, "every agent group failed")
	}

	if err := ws.To(StateSynthesizing, ""); err != nil {
		return e.fail(ws, session, types.ErrCodeInternal, err.Error())
	}

	answer, err := e.synthesizer.Synthesize(results, ws.Decision)
	if err != nil {
		return e.fail(ws, session, types.CodeOf(err), err.Error())
	}
	answer.Degraded = ws.Expired(time.Now()) || len(results) < len(plan.Groups)
	answer.Duration = time.Since(start)

	// stream the answer before the terminal event; tokens carry
	// strictly increasing sequence numbers
	for _, token := range tokenize(answer.Text) {
		if session.Context().Err() != nil {
			return e.fail(ws, session, types.ErrCodeCancelled, "client disconnected mid-stream")
		}
		session.Token(token)
	}

	if err := ws.To(StateComplete, ""); err != nil {
		return e.fail(ws, session, types.ErrCodeInternal, err.Error())
	}
	session.Done(answer)

	e.appendTurn(query, answer)

	e.logger.Info("query complete",
		zap.String("query_id", query.ID),
		zap.String("mode", string(plan.Mode)),
		zap.Int("experts", len(results)),
		zap.Bool("degraded", answer.Degraded),
		zap.Duration("duration", answer.Duration))

	return ws
}

// execute runs the planned groups according to the execution mode and
// gathers whatever results survive.
func (e *Engine) execute(ctx context.Context, ws *WorkflowState, convCtx types.ConversationContext) []types.AgentResult {
	runner := e.groupRunner(ws, convCtx)

	switch ws.Plan.Mode {
	case types.ModeSequential:
		return e.coordinator.Sequential(ctx, ws.Query, ws.Plan.Groups, runner)

	case types.ModeDebate:
		results, err := e.coordinator.Debate(ctx, ws.Query, ws.Plan.Groups, runner)
		if err != nil {
			e.logger.Warn("debate failed", zap.String("query_id", ws.ID), zap.Error(err))
			return nil
		}
		return results

	case types.ModeParallel:
		var mu sync.Mutex
		var wg sync.WaitGroup
		results := make([]types.AgentResult, 0, len(ws.Plan.Groups))
		for _, group := range ws.Plan.Groups {
			wg.Add(1)
			go func(group types.AgentGroup) {
				defer wg.Done()
				result, err := runner(ctx, group, nil)
				if err != nil {
					e.logger.Warn("parallel group failed",
						zap.String("query_id", ws.ID),
						zap.String("role", string(group.Role)),
						zap.Error(err))
					return
				}
				mu.Lock()
				results = append(results, result)
				mu.Unlock()
			}(group)
		}
		wg.Wait()
		// restore plan order so synthesis input is deterministic
		ordered := make([]types.AgentResult, 0, len(results))
		for _, group := range ws.Plan.Groups {
			for _, r := range results {
				if r.Role == group.Role {
					ordered = append(ordered, r)
					break
				}
			}
		}
		return ordered

	default: // single
		result, err := runner(ctx, ws.Plan.Groups[0], nil)
		if err != nil {
			e.logger.Warn("group failed",
				zap.String("query_id", ws.ID),
				zap.String("role", string(ws.Plan.Groups[0].Role)),
				zap.Error(err))
			return nil
		}
		return []types.AgentResult{result}
	}
}

// groupRunner builds the GroupRunner closure: tools, then the agent,
// under the retry budget. Tool invocations are recorded on the
// workflow state; the engine is its only writer, so recording is
// serialized with a lock shared by all groups of this query.
func (e *Engine) groupRunner(ws *WorkflowState, convCtx types.ConversationContext) GroupRunner {
	var mu sync.Mutex

	return func(ctx context.Context, group types.AgentGroup, prior []types.AgentResult) (types.AgentResult, error) {
		agent, ok := e.registry.Get(group.Role)
		if !ok {
			return types.AgentResult{}, types.NewError(types.ErrCodeUnknownRole,
				"agent %q disappeared from registry", group.Role)
		}

		agentDep := "agent:" + string(group.Role)
		cb := e.breakers.Get(agentDep)

		var lastErr error
		for attempt := 0; attempt <= e.config.GroupRetries; attempt++ {
			if ctx.Err() != nil {
				return types.AgentResult{}, ctx.Err()
			}
			if attempt > 0 {
				backoff := e.config.RetryBackoff << (attempt - 1)
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return types.AgentResult{}, ctx.Err()
				}
			}

			// an open breaker consumes the whole retry budget
			if allowed, err := cb.Allow(); !allowed {
				return types.AgentResult{}, types.NewError(types.ErrCodeCircuitOpen,
					"expert %s unavailable: %v", group.Role, err)
			}

			invocations := e.executor.Run(ctx, buildCalls(group, ws.Query))
			mu.Lock()
			ws.Invocations = append(ws.Invocations, invocations...)
			mu.Unlock()

			result, err := agent.Respond(ctx, agents.Request{
				Query:        ws.Query,
				Context:      convCtx,
				Invocations:  invocations,
				PriorResults: prior,
				Confidence:   group.Confidence,
			})
			if err != nil {
				cb.RecordFailure()
				lastErr = err
				e.logger.Warn("agent attempt failed",
					zap.String("query_id", ws.ID),
					zap.String("role", string(group.Role)),
					zap.Int("attempt", attempt+1),
					zap.Error(err))
				continue
			}
			cb.RecordSuccess()
			return result, nil
		}

		mu.Lock()
		ws.Errs = append(ws.Errs, fmt.Errorf("group %s exhausted retries: %w", group.Role, lastErr))
		mu.Unlock()
		return types.AgentResult{}, fmt.Errorf("group %s exhausted %d retries: %w",
			group.Role, e.config.GroupRetries, lastErr)
	}
}

func (e *Engine) fail(ws *WorkflowState, session *stream.Session, code types.ErrorCode, detail string) *WorkflowState {
	ws.Fail(code, detail)
	session.Fail(code, userMessage(code))
	e.logger.Warn("query failed",
		zap.String("query_id", ws.ID),
		zap.String("reason", string(code)),
		zap.String("detail", detail))
	return ws
}

// appendTurn persists the completed exchange; persistence failures are
// logged, the answer was already delivered.
func (e *Engine) appendTurn(query types.Query, answer types.FinalAnswer) {
	roles := make([]string, 0, len(answer.Contributors))
	for _, r := range answer.Contributors {
		roles = append(roles, string(r))
	}
	turn := types.Turn{
		QueryID:   query.ID,
		User:      types.NewUserMessage(query.Text),
		Assistant: types.NewAssistantMessage(answer.Text),
		Roles:     roles,
		CreatedAt: time.Now(),
	}
	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.memory.Append(persistCtx, query.ConversationID, turn); err != nil {
		e.logger.Error("turn persistence failed",
			zap.String("conversation_id", query.ConversationID), zap.Error(err))
	}
}

// userMessage maps an error code to the short apology shown to users;
// the code itself rides along for client retry logic.
func userMessage(code types.ErrorCode) string {
	switch code {
	case types.ErrCodeCancelled:
		return "La requête a été annulée."
	case types.ErrCodeDeadline:
		return "Désolé, la réponse a pris trop de temps. Veuillez réessayer."
	case types.ErrCodeNoUsableResults:
		return "Désolé, aucun expert n'a pu répondre de façon fiable. Veuillez reformuler votre question."
	default:
		return "Désolé, une erreur est survenue. Veuillez réessayer."
	}
}

// tokenize splits the answer into streamable word chunks, whitespace
// attached so the client can concatenate tokens verbatim.
func tokenize(text string) []string {
	words := strings.SplitAfter(text, " ")
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
