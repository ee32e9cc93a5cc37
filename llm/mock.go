package llm

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockProvider is a scripted Provider for tests and offline runs.
// Responses are served in order; when the script is exhausted the last
// entry repeats. A nil script echoes the last user message.
type MockProvider struct {
	name      string
	script    []string
	delay     time.Duration
	failWith  error
	mu        sync.Mutex
	callCount int
}

// NewMockProvider creates a mock provider serving the given responses.
func NewMockProvider(responses ...string) *MockProvider {
	return &MockProvider{name: "mock", script: responses}
}

// WithDelay makes every call sleep for d before responding, so tests
// can exercise timeouts.
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.delay = d
	return m
}

// WithError makes every call fail with err.
func (m *MockProvider) WithError(err error) *MockProvider {
	m.failWith = err
	return m
}

// CallCount returns how many completion calls were made.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func (m *MockProvider) next(req *ChatRequest) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	if len(m.script) == 0 {
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == RoleUser {
				return req.Messages[i].Content
			}
		}
		return ""
	}
	idx := m.callCount - 1
	if idx >= len(m.script) {
		idx = len(m.script) - 1
	}
	return m.script[idx]
}

func (m *MockProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.failWith != nil {
		m.mu.Lock()
		m.callCount++
		m.mu.Unlock()
		return nil, m.failWith
	}
	content := m.next(req)
	return &ChatResponse{
		Provider:     m.name,
		Model:        req.Model,
		Content:      content,
		FinishReason: "stop",
		Usage:        ChatUsage{CompletionTokens: len(strings.Fields(content))},
		CreatedAt:    time.Now(),
	}, nil
}

func (m *MockProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	content := m.next(req)
	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		words := strings.Fields(content)
		for i, w := range words {
			delta := w
			if i < len(words)-1 {
				delta += " "
			}
			chunk := StreamChunk{Delta: delta}
			if i == len(words)-1 {
				chunk.FinishReason = "stop"
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			if m.delay > 0 {
				select {
				case <-time.After(m.delay):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (m *MockProvider) Name() string { return m.name }
