// Package workflow drives one query from classification through agent
// execution to synthesis. The engine is the single writer of the
// per-query WorkflowState; every transition is validated and recorded
// so a query's path through the machine can be audited afterwards.
package workflow

import (
	"fmt"
	"time"

	"github.com/agrosense/agrosense/types"
)

// State is one phase of the query lifecycle.
type State string

const (
	StateReceived     State = "received"
	StateClassified   State = "classified"
	StateExecuting    State = "executing"
	StateSynthesizing State = "synthesizing"
	StateComplete     State = "complete"
	StateFailed       State = "failed"
)

// Terminal reports whether the state ends the lifecycle.
func (s State) Terminal() bool { return s == StateComplete || s == StateFailed }

// legal transitions; failed is reachable from any non-terminal state
var transitions = map[State][]State{
	StateReceived:     {StateClassified, StateFailed},
	StateClassified:   {StateExecuting, StateFailed},
	StateExecuting:    {StateSynthesizing, StateFailed},
	StateSynthesizing: {StateComplete, StateFailed},
}

// Transition is one recorded state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// WorkflowState tracks one query's progress. It is owned by the
// engine; other components receive read-only snapshots.
type WorkflowState struct {
	ID       string
	Query    types.Query
	Current  State
	Decision types.RoutingDecision
	Plan     types.ExecutionPlan

	Invocations []types.ToolInvocation
	Results     []types.AgentResult
	Errs        []error

	Deadline   time.Time
	FailReason types.ErrorCode
	History    []Transition
}

// NewWorkflowState creates the state record for one query.
func NewWorkflowState(query types.Query, deadline time.Time) *WorkflowState {
	return &WorkflowState{
		ID:       query.ID,
		Query:    query,
		Current:  StateReceived,
		Deadline: deadline,
		History:  []Transition{{To: StateReceived, At: time.Now()}},
	}
}

// To transitions the state machine, rejecting moves the lifecycle does
// not allow.
func (ws *WorkflowState) To(next State, reason string) error {
	if ws.Current.Terminal() {
		return fmt.Errorf("workflow %s already terminal in %s", ws.ID, ws.Current)
	}
	allowed := false
	for _, s := range transitions[ws.Current] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("workflow %s: illegal transition %s -> %s", ws.ID, ws.Current, next)
	}
	ws.History = append(ws.History, Transition{From: ws.Current, To: next, Reason: reason, At: time.Now()})
	ws.Current = next
	return nil
}

// Fail moves to the failed terminal state with a machine-readable
// reason. Failing an already-terminal workflow is a no-op so late
// cancellations cannot corrupt the record.
func (ws *WorkflowState) Fail(reason types.ErrorCode, detail string) {
	if ws.Current.Terminal() {
		return
	}
	ws.FailReason = reason
	ws.History = append(ws.History, Transition{From: ws.Current, To: StateFailed, Reason: detail, At: time.Now()})
	ws.Current = StateFailed
}

// Expired reports whether the query deadline has elapsed.
func (ws *WorkflowState) Expired(now time.Time) bool {
	return !ws.Deadline.IsZero() && now.After(ws.Deadline)
}
