// Package stream implements the event protocol between the
// orchestrator and the presentation layer: an ordered stream of
// start / agent_selected / token / done / error events per query,
// with exactly one terminal event, delivered over a per-query session
// that propagates client cancellation back into the workflow.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/agrosense/agrosense/types"
)

// Kind is the event type.
type Kind string

const (
	KindStart         Kind = "start"
	KindAgentSelected Kind = "agent_selected"
	KindToken         Kind = "token"
	KindDone          Kind = "done"
	KindError         Kind = "error"
)

// Event is one protocol message. Seq increases strictly within a
// session so clients can assert ordering.
type Event struct {
	Seq     uint64 `json:"seq"`
	Kind    Kind   `json:"kind"`
	QueryID string `json:"query_id"`

	// agent_selected
	Role      types.AgentRole `json:"role,omitempty"`
	Reasoning string          `json:"reasoning,omitempty"`

	// token
	Token string `json:"token,omitempty"`

	// done
	Answer *types.FinalAnswer `json:"answer,omitempty"`

	// error
	Err *types.Error `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool { return e.Kind == KindDone || e.Kind == KindError }

// Session carries one query's event stream. The workflow engine is
// the producer; one transport handler is the consumer. Events are
// delivered in emission order; after a terminal event the channel is
// closed and further emissions are dropped.
type Session struct {
	queryID string
	events  chan Event

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	seq      uint64
	finished bool
}

// NewSession creates a session for one query. The returned context is
// the workflow's execution context: cancelling the session (client
// disconnect) cancels it.
func NewSession(parent context.Context, queryID string, buffer int) *Session {
	if buffer <= 0 {
		buffer = 64
	}
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		queryID: queryID,
		events:  make(chan Event, buffer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Context returns the session's execution context.
func (s *Session) Context() context.Context { return s.ctx }

// Events returns the consumer side of the stream. The channel closes
// after the terminal event.
func (s *Session) Events() <-chan Event { return s.events }

// Cancel aborts the session from the consumer side (client
// disconnect). The workflow observes it through Context.
func (s *Session) Cancel() { s.cancel() }

// Start emits the query-accepted event.
func (s *Session) Start() { s.emit(Event{Kind: KindStart}) }

// AgentSelected emits one routing notification.
func (s *Session) AgentSelected(role types.AgentRole, reasoning string) {
	s.emit(Event{Kind: KindAgentSelected, Role: role, Reasoning: reasoning})
}

// Token emits one increment of answer text.
func (s *Session) Token(token string) { s.emit(Event{Kind: KindToken, Token: token}) }

// Done emits the terminal success event and closes the stream.
func (s *Session) Done(answer types.FinalAnswer) {
	s.emit(Event{Kind: KindDone, Answer: &answer})
}

// Fail emits the terminal error event and closes the stream.
func (s *Session) Fail(code types.ErrorCode, message string) {
	s.emit(Event{Kind: KindError, Err: &types.Error{Code: code, Message: message}})
}

func (s *Session) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return
	}
	s.seq++
	ev.Seq = s.seq
	ev.QueryID = s.queryID
	ev.Timestamp = time.Now()

	select {
	case s.events <- ev:
	case <-s.ctx.Done():
		// consumer is gone; terminal bookkeeping still applies
	}

	if ev.Terminal() {
		s.finished = true
		close(s.events)
	}
}
