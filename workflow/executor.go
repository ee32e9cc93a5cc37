package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/agrosense/agrosense/breaker"
	"github.com/agrosense/agrosense/internal/metrics"
	"github.com/agrosense/agrosense/tool"
	"github.com/agrosense/agrosense/types"
)

// ExecutorConfig holds tool executor tuning.
type ExecutorConfig struct {
	// MaxConcurrency bounds in-flight tool calls across one Run, so a
	// fan-out query cannot overwhelm downstream APIs.
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency"`
	// DefaultTimeout applies to tools that do not declare their own.
	DefaultTimeout time.Duration `json:"default_timeout" yaml:"default_timeout"`
}

// DefaultExecutorConfig returns the default executor tuning.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrency: 5,
		DefaultTimeout: 10 * time.Second,
	}
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	d := DefaultExecutorConfig()
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = d.DefaultTimeout
	}
	return c
}

// Executor runs the tool calls of one agent group concurrently. Every
// call is checked against its tool's circuit breaker first and its
// outcome is reported back; a per-call timeout fails that invocation
// without aborting siblings.
type Executor struct {
	tools    *tool.Registry
	breakers *breaker.Registry
	config   ExecutorConfig
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewExecutor creates a tool executor.
func NewExecutor(tools *tool.Registry, breakers *breaker.Registry, config ExecutorConfig, m *metrics.Metrics, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		tools:    tools,
		breakers: breakers,
		config:   config.withDefaults(),
		metrics:  m,
		logger:   logger.With(zap.String("component", "tool_executor")),
	}
}

// Run executes all calls concurrently under the concurrency bound and
// returns one invocation record per call, in input order. Run itself
// never fails: every outcome, including skipped and timed-out calls,
// is expressed in the invocation records.
func (x *Executor) Run(ctx context.Context, calls []tool.Call) []types.ToolInvocation {
	if len(calls) == 0 {
		return nil
	}

	sem := semaphore.NewWeighted(int64(x.config.MaxConcurrency))
	out := make([]types.ToolInvocation, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call tool.Call) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				out[i] = x.failed(call, types.FailureCancelled, err)
				return
			}
			defer sem.Release(1)

			out[i] = x.invoke(ctx, call)
		}(i, call)
	}
	wg.Wait()

	return out
}

// invoke runs one tool call: rate limit, breaker check, bounded
// invocation, outcome report.
func (x *Executor) invoke(ctx context.Context, call tool.Call) types.ToolInvocation {
	t, ok := x.tools.Get(call.Tool)
	if !ok {
		return x.failed(call, types.FailureToolError,
			types.NewError(types.ErrCodeToolFailure, "tool %q not registered", call.Tool))
	}

	if limiter := x.tools.Limiter(call.Tool); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return x.failed(call, types.FailureCancelled, err)
		}
	}

	cb := x.breakers.Get(call.Tool)
	if allowed, err := cb.Allow(); !allowed {
		x.logger.Debug("tool call skipped, circuit open", zap.String("tool", call.Tool))
		if x.metrics != nil {
			x.metrics.ToolSkipped(call.Tool)
		}
		return x.failed(call, types.FailureCircuitOpen, err)
	}

	timeout := t.Timeout()
	if timeout <= 0 {
		timeout = x.config.DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	inv := types.ToolInvocation{
		ID:      uuid.New().String(),
		Tool:    call.Tool,
		Input:   call.Input,
		StartAt: time.Now(),
	}
	if x.metrics != nil {
		x.metrics.ToolStarted(call.Tool)
		defer x.metrics.ToolFinished(call.Tool)
	}

	result, err := t.Invoke(callCtx, call.Input)
	inv.Duration = time.Since(inv.StartAt)

	if err != nil {
		inv.Error = err.Error()
		switch {
		case ctx.Err() != nil:
			// the query context ended, not the per-call budget
			inv.Failure = types.FailureCancelled
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
			inv.Failure = types.FailureTimeout
		case errors.Is(err, context.Canceled):
			inv.Failure = types.FailureCancelled
		default:
			inv.Failure = types.FailureToolError
		}
		// a cancelled query says nothing about the dependency's health
		if inv.Failure != types.FailureCancelled {
			cb.RecordFailure()
		}
		x.logger.Warn("tool call failed",
			zap.String("tool", call.Tool),
			zap.String("failure", string(inv.Failure)),
			zap.Duration("duration", inv.Duration),
			zap.Error(err))
		if x.metrics != nil {
			x.metrics.ToolCompleted(call.Tool, string(inv.Failure), inv.Duration)
		}
		return inv
	}

	cb.RecordSuccess()
	inv.Result = result
	x.logger.Debug("tool call ok",
		zap.String("tool", call.Tool),
		zap.Duration("duration", inv.Duration))
	if x.metrics != nil {
		x.metrics.ToolCompleted(call.Tool, "ok", inv.Duration)
	}
	return inv
}

func (x *Executor) failed(call tool.Call, kind types.FailureKind, err error) types.ToolInvocation {
	inv := types.ToolInvocation{
		ID:      uuid.New().String(),
		Tool:    call.Tool,
		Input:   call.Input,
		StartAt: time.Now(),
		Failure: kind,
	}
	if err != nil {
		inv.Error = err.Error()
	}
	return inv
}

// buildCalls derives the tool calls for an agent group from the query.
// Tool inputs are assembled from the query scope; agents interpret the
// results, the executor only moves data.
func buildCalls(group types.AgentGroup, query types.Query) []tool.Call {
	calls := make([]tool.Call, 0, len(group.Tools))
	for _, name := range group.Tools {
		calls = append(calls, tool.Call{Tool: name, Input: defaultInput(name, query)})
	}
	return calls
}

func defaultInput(toolName string, query types.Query) json.RawMessage {
	in := map[string]any{"query": query.Text}
	if query.Farm != nil {
		if query.Farm.FarmID != "" {
			in["farm_id"] = query.Farm.FarmID
			in["kind"] = "interventions"
		}
		if query.Farm.Region != "" {
			in["commune"] = query.Farm.Region
		}
	}
	raw, _ := json.Marshal(in)
	return raw
}
