package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrosense/agrosense/types"
)

func collect(s *Session) []Event {
	var events []Event
	for ev := range s.Events() {
		events = append(events, ev)
	}
	return events
}

func TestSession_FullLifecycle(t *testing.T) {
	s := NewSession(context.Background(), "q-1", 16)

	s.Start()
	s.AgentSelected(types.RoleWeather, "confidence 0.85, mode single")
	s.Token("Grand ")
	s.Token("soleil.")
	s.Done(types.FinalAnswer{QueryID: "q-1", Text: "Grand soleil."})

	events := collect(s)
	require.Len(t, events, 5)
	assert.Equal(t, KindStart, events[0].Kind)
	assert.Equal(t, KindAgentSelected, events[1].Kind)
	assert.Equal(t, types.RoleWeather, events[1].Role)
	assert.Equal(t, KindToken, events[2].Kind)
	assert.Equal(t, "Grand ", events[2].Token)
	assert.Equal(t, KindDone, events[4].Kind)
	require.NotNil(t, events[4].Answer)
	assert.Equal(t, "Grand soleil.", events[4].Answer.Text)
}

func TestSession_SeqStrictlyIncreases(t *testing.T) {
	s := NewSession(context.Background(), "q-1", 64)

	s.Start()
	for i := 0; i < 30; i++ {
		s.Token("mot ")
	}
	s.Done(types.FinalAnswer{})

	events := collect(s)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq)
	}
	for _, ev := range events {
		assert.Equal(t, "q-1", ev.QueryID)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestSession_ExactlyOneTerminalEvent(t *testing.T) {
	s := NewSession(context.Background(), "q-1", 16)

	s.Start()
	s.Done(types.FinalAnswer{Text: "ok"})
	// everything after the terminal event must be dropped
	s.Fail(types.ErrCodeInternal, "late failure")
	s.Token("late token")
	s.Done(types.FinalAnswer{Text: "second"})

	events := collect(s)
	terminals := 0
	for _, ev := range events {
		if ev.Terminal() {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)
	assert.Equal(t, KindDone, events[len(events)-1].Kind)
	assert.Equal(t, "ok", events[len(events)-1].Answer.Text)
}

func TestSession_ErrorIsTerminal(t *testing.T) {
	s := NewSession(context.Background(), "q-1", 16)

	s.Start()
	s.Fail(types.ErrCodeNoUsableResults, "aucun expert")

	events := collect(s)
	require.Len(t, events, 2)
	last := events[1]
	assert.Equal(t, KindError, last.Kind)
	require.NotNil(t, last.Err)
	assert.Equal(t, types.ErrCodeNoUsableResults, last.Err.Code)
}

func TestSession_CancelPropagatesToContext(t *testing.T) {
	s := NewSession(context.Background(), "q-1", 16)

	require.NoError(t, s.Context().Err())
	s.Cancel()

	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("session context not cancelled")
	}
}

func TestSession_ProducerNotStuckAfterCancel(t *testing.T) {
	// tiny buffer, no consumer: emissions must not block once the
	// session is cancelled
	s := NewSession(context.Background(), "q-1", 1)
	s.Start() // fills the buffer
	s.Cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Token("a")
		s.Token("b")
		s.Fail(types.ErrCodeCancelled, "client disconnected")
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer blocked on cancelled session")
	}
}

func TestSession_ParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	s := NewSession(parent, "q-1", 16)
	cancel()

	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("parent cancellation not observed")
	}
}
