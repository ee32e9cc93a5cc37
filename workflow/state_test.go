package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrosense/agrosense/types"
)

func newTestState() *WorkflowState {
	q := types.NewQuery("conv-1", "Quel temps fera-t-il demain ?", nil)
	return NewWorkflowState(q, time.Now().Add(30*time.Second))
}

func TestWorkflowState_HappyPath(t *testing.T) {
	ws := newTestState()
	assert.Equal(t, StateReceived, ws.Current)

	require.NoError(t, ws.To(StateClassified, "single"))
	require.NoError(t, ws.To(StateExecuting, ""))
	require.NoError(t, ws.To(StateSynthesizing, ""))
	require.NoError(t, ws.To(StateComplete, ""))

	assert.True(t, ws.Current.Terminal())
	require.Len(t, ws.History, 5)
	assert.Equal(t, StateReceived, ws.History[0].To)
	assert.Equal(t, StateComplete, ws.History[4].To)
}

func TestWorkflowState_RejectsSkippedStates(t *testing.T) {
	ws := newTestState()

	err := ws.To(StateExecuting, "")
	require.Error(t, err)
	assert.Equal(t, StateReceived, ws.Current)

	err = ws.To(StateComplete, "")
	require.Error(t, err)

	require.NoError(t, ws.To(StateClassified, ""))
	err = ws.To(StateSynthesizing, "")
	require.Error(t, err)
	assert.Equal(t, StateClassified, ws.Current)
}

func TestWorkflowState_RejectsBackwardTransitions(t *testing.T) {
	ws := newTestState()
	require.NoError(t, ws.To(StateClassified, ""))
	require.NoError(t, ws.To(StateExecuting, ""))

	err := ws.To(StateClassified, "")
	require.Error(t, err)
	assert.Equal(t, StateExecuting, ws.Current)
}

func TestWorkflowState_FailFromAnyNonTerminal(t *testing.T) {
	for _, from := range []State{StateReceived, StateClassified, StateExecuting, StateSynthesizing} {
		ws := newTestState()
		for _, step := range []State{StateClassified, StateExecuting, StateSynthesizing} {
			if ws.Current == from {
				break
			}
			require.NoError(t, ws.To(step, ""))
		}
		require.Equal(t, from, ws.Current)

		ws.Fail(types.ErrCodeInternal, "boom")
		assert.Equal(t, StateFailed, ws.Current)
		assert.Equal(t, types.ErrCodeInternal, ws.FailReason)
	}
}

func TestWorkflowState_TerminalIsFinal(t *testing.T) {
	ws := newTestState()
	require.NoError(t, ws.To(StateClassified, ""))
	ws.Fail(types.ErrCodeDeadline, "too slow")

	// late failure must not overwrite the recorded reason
	ws.Fail(types.ErrCodeCancelled, "client gone")
	assert.Equal(t, types.ErrCodeDeadline, ws.FailReason)

	err := ws.To(StateExecuting, "")
	require.Error(t, err)
	assert.Equal(t, StateFailed, ws.Current)
}

func TestWorkflowState_CompleteRejectsFail(t *testing.T) {
	ws := newTestState()
	require.NoError(t, ws.To(StateClassified, ""))
	require.NoError(t, ws.To(StateExecuting, ""))
	require.NoError(t, ws.To(StateSynthesizing, ""))
	require.NoError(t, ws.To(StateComplete, ""))

	ws.Fail(types.ErrCodeCancelled, "late cancel")
	assert.Equal(t, StateComplete, ws.Current)
	assert.Empty(t, ws.FailReason)
}

func TestWorkflowState_Expired(t *testing.T) {
	q := types.NewQuery("conv-1", "question", nil)
	ws := NewWorkflowState(q, time.Now().Add(time.Minute))

	assert.False(t, ws.Expired(time.Now()))
	assert.True(t, ws.Expired(time.Now().Add(2*time.Minute)))
}
