package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrosense/agrosense/breaker"
	"github.com/agrosense/agrosense/tool"
	"github.com/agrosense/agrosense/types"
)

func newTestExecutor(t *testing.T, tools *tool.Registry, cfg ExecutorConfig) (*Executor, *breaker.Registry) {
	t.Helper()
	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 5, Cooldown: 30 * time.Second}, nil, nil)
	return NewExecutor(tools, breakers, cfg, nil, nil), breakers
}

func okTool(name string, delay time.Duration) tool.Tool {
	return tool.NewFunc(name, 0, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		select {
		case <-time.After(delay):
			return json.RawMessage(`{"ok":true}`), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

func TestExecutor_ResultsInInputOrder(t *testing.T) {
	tools := tool.NewRegistry(0, 0)
	require.NoError(t, tools.Register(okTool("alpha", 20*time.Millisecond)))
	require.NoError(t, tools.Register(okTool("beta", time.Millisecond)))
	require.NoError(t, tools.Register(okTool("gamma", 10*time.Millisecond)))
	x, _ := newTestExecutor(t, tools, ExecutorConfig{})

	calls := []tool.Call{{Tool: "alpha"}, {Tool: "beta"}, {Tool: "gamma"}}
	invs := x.Run(context.Background(), calls)

	require.Len(t, invs, 3)
	assert.Equal(t, "alpha", invs[0].Tool)
	assert.Equal(t, "beta", invs[1].Tool)
	assert.Equal(t, "gamma", invs[2].Tool)
	for _, inv := range invs {
		assert.True(t, inv.OK(), "tool %s: %s", inv.Tool, inv.Error)
		assert.NotEmpty(t, inv.ID)
	}
}

func TestExecutor_ConcurrencyBound(t *testing.T) {
	var inflight, peak int64
	var mu sync.Mutex

	tools := tool.NewRegistry(0, 0)
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("tool-%d", i)
		require.NoError(t, tools.Register(tool.NewFunc(name, 0, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			n := atomic.AddInt64(&inflight, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt64(&inflight, -1)
			return json.RawMessage(`{}`), nil
		})))
	}
	x, _ := newTestExecutor(t, tools, ExecutorConfig{MaxConcurrency: 5})

	calls := make([]tool.Call, 8)
	for i := range calls {
		calls[i] = tool.Call{Tool: fmt.Sprintf("tool-%d", i)}
	}
	invs := x.Run(context.Background(), calls)

	require.Len(t, invs, 8)
	for _, inv := range invs {
		assert.True(t, inv.OK())
	}
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, int64(5))
	assert.Greater(t, peak, int64(1))
}

func TestExecutor_PerCallTimeoutDoesNotAbortSiblings(t *testing.T) {
	tools := tool.NewRegistry(0, 0)
	require.NoError(t, tools.Register(okTool("slow", time.Second)))
	require.NoError(t, tools.Register(okTool("fast", time.Millisecond)))
	x, _ := newTestExecutor(t, tools, ExecutorConfig{DefaultTimeout: 50 * time.Millisecond})

	invs := x.Run(context.Background(), []tool.Call{{Tool: "slow"}, {Tool: "fast"}})

	require.Len(t, invs, 2)
	assert.Equal(t, types.FailureTimeout, invs[0].Failure)
	assert.True(t, invs[1].OK())
}

func TestExecutor_ToolErrorReported(t *testing.T) {
	tools := tool.NewRegistry(0, 0)
	require.NoError(t, tools.Register(tool.NewFunc("broken", 0, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return nil, fmt.Errorf("upstream said no")
	})))
	x, _ := newTestExecutor(t, tools, ExecutorConfig{})

	invs := x.Run(context.Background(), []tool.Call{{Tool: "broken"}})

	require.Len(t, invs, 1)
	assert.False(t, invs[0].OK())
	assert.Equal(t, types.FailureToolError, invs[0].Failure)
	assert.Contains(t, invs[0].Error, "upstream said no")
}

func TestExecutor_UnknownToolReported(t *testing.T) {
	x, _ := newTestExecutor(t, tool.NewRegistry(0, 0), ExecutorConfig{})

	invs := x.Run(context.Background(), []tool.Call{{Tool: "ghost"}})

	require.Len(t, invs, 1)
	assert.Equal(t, types.FailureToolError, invs[0].Failure)
	assert.Contains(t, invs[0].Error, "not registered")
}

func TestExecutor_OpenCircuitSkipsCall(t *testing.T) {
	var calls int64
	tools := tool.NewRegistry(0, 0)
	require.NoError(t, tools.Register(tool.NewFunc("guarded", 0, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		atomic.AddInt64(&calls, 1)
		return json.RawMessage(`{}`), nil
	})))
	x, breakers := newTestExecutor(t, tools, ExecutorConfig{})

	cb := breakers.Get("guarded")
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, breaker.StateOpen, cb.State())

	invs := x.Run(context.Background(), []tool.Call{{Tool: "guarded"}})

	require.Len(t, invs, 1)
	assert.Equal(t, types.FailureCircuitOpen, invs[0].Failure)
	assert.Zero(t, atomic.LoadInt64(&calls), "tool must not run while circuit is open")
}

func TestExecutor_FailuresTripBreaker(t *testing.T) {
	tools := tool.NewRegistry(0, 0)
	require.NoError(t, tools.Register(tool.NewFunc("flaky", 0, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return nil, fmt.Errorf("boom")
	})))
	x, breakers := newTestExecutor(t, tools, ExecutorConfig{})

	for i := 0; i < 5; i++ {
		x.Run(context.Background(), []tool.Call{{Tool: "flaky"}})
	}
	assert.Equal(t, breaker.StateOpen, breakers.Get("flaky").State())
}

func TestExecutor_CancelledContext(t *testing.T) {
	tools := tool.NewRegistry(0, 0)
	require.NoError(t, tools.Register(okTool("any", time.Second)))
	x, _ := newTestExecutor(t, tools, ExecutorConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	invs := x.Run(ctx, []tool.Call{{Tool: "any"}})

	require.Len(t, invs, 1)
	assert.Equal(t, types.FailureCancelled, invs[0].Failure)
}

func TestExecutor_QueryDeadlineIsCancelledNotTimeout(t *testing.T) {
	tools := tool.NewRegistry(0, 0)
	require.NoError(t, tools.Register(okTool("slow", time.Second)))
	x, breakers := newTestExecutor(t, tools, ExecutorConfig{DefaultTimeout: 5 * time.Second})

	// the query deadline fires while the per-call timeout still has room
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	invs := x.Run(ctx, []tool.Call{{Tool: "slow"}})

	require.Len(t, invs, 1)
	assert.Equal(t, types.FailureCancelled, invs[0].Failure)
	// a dead query must not count against the tool's breaker
	assert.Equal(t, breaker.StateClosed, breakers.Get("slow").State())
}

func TestExecutor_CancelledCallLeavesBreakerClosed(t *testing.T) {
	tools := tool.NewRegistry(0, 0)
	require.NoError(t, tools.Register(okTool("steady", time.Second)))
	x, breakers := newTestExecutor(t, tools, ExecutorConfig{DefaultTimeout: 5 * time.Second})

	for i := 0; i < 6; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		invs := x.Run(ctx, []tool.Call{{Tool: "steady"}})
		cancel()
		require.Len(t, invs, 1)
		assert.Equal(t, types.FailureCancelled, invs[0].Failure)
	}
	assert.Equal(t, breaker.StateClosed, breakers.Get("steady").State())
}

func TestExecutor_EmptyCalls(t *testing.T) {
	x, _ := newTestExecutor(t, tool.NewRegistry(0, 0), ExecutorConfig{})
	assert.Nil(t, x.Run(context.Background(), nil))
}

func TestBuildCalls_AttachesQueryScope(t *testing.T) {
	farm := &types.FarmContext{FarmID: "farm-7", Region: "28"}
	q := types.NewQuery("conv-1", "traitement mildiou pomme de terre", farm)
	group := types.AgentGroup{Role: types.RoleCropHealth, Tools: []string{"eppo_lookup", "farm_records"}}

	calls := buildCalls(group, q)
	require.Len(t, calls, 2)
	assert.Equal(t, "eppo_lookup", calls[0].Tool)

	var in map[string]any
	require.NoError(t, json.Unmarshal(calls[0].Input, &in))
	assert.Equal(t, "traitement mildiou pomme de terre", in["query"])
	assert.Equal(t, "farm-7", in["farm_id"])
	assert.Equal(t, "28", in["commune"])
}
