package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionServer(t *testing.T, content string, capture *oaRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(oaResponse{
			ID:    "cmpl-1",
			Model: "gpt-4o-mini",
			Choices: []oaChoice{{
				FinishReason: "stop",
				Message:      &oaMessage{Role: "assistant", Content: content},
			}},
			Usage: &oaUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		})
	}))
}

func TestOpenAIProvider_Completion(t *testing.T) {
	var got oaRequest
	server := completionServer(t, "Réponse de test.", &got)
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL, DefaultModel: "gpt-4o-mini"}, nil)
	resp, err := p.Completion(context.Background(), &ChatRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "Tu es un conseiller agricole."},
			{Role: RoleUser, Content: "Bonjour"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "Réponse de test.", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	// default model fills the request when the caller names none
	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.False(t, got.Stream)
}

func TestOpenAIProvider_SendsBearerToken(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(oaResponse{Choices: []oaChoice{{Message: &oaMessage{Content: "ok"}}}})
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-secret", BaseURL: server.URL}, nil)
	_, err := p.Completion(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})

	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-secret", auth)
}

func TestOpenAIProvider_ErrorMapping(t *testing.T) {
	cases := []struct {
		status    int
		code      ErrorCode
		retryable bool
	}{
		{http.StatusUnauthorized, ErrUnauthorized, false},
		{http.StatusTooManyRequests, ErrRateLimited, true},
		{http.StatusBadRequest, ErrInvalidRequest, false},
		{http.StatusServiceUnavailable, ErrProviderUnavailable, true},
		{http.StatusInternalServerError, ErrUpstreamError, true},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "nope"}})
		}))

		p := NewOpenAIProvider(OpenAIConfig{APIKey: "sk", BaseURL: server.URL}, nil)
		_, err := p.Completion(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
		server.Close()

		require.Error(t, err)
		var llmErr *Error
		require.ErrorAs(t, err, &llmErr)
		assert.Equal(t, tc.code, llmErr.Code, "status %d", tc.status)
		assert.Equal(t, tc.retryable, llmErr.Retryable, "status %d", tc.status)
		assert.Equal(t, "nope", llmErr.Message)
	}
}

func TestOpenAIProvider_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req oaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, word := range []string{"Grand ", "soleil ", "demain."} {
			chunk, _ := json.Marshal(oaResponse{
				ID:      "cmpl-2",
				Choices: []oaChoice{{Delta: &oaMessage{Content: word}}},
			})
			w.Write([]byte("data: "))
			w.Write(chunk)
			w.Write([]byte("\n\n"))
		}
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "sk", BaseURL: server.URL}, nil)
	ch, err := p.Stream(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "météo"}}})
	require.NoError(t, err)

	var text string
	for chunk := range ch {
		require.Nil(t, chunk.Err)
		text += chunk.Delta
	}
	assert.Equal(t, "Grand soleil demain.", text)
}

func TestOpenAIProvider_StreamCancelled(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunk, _ := json.Marshal(oaResponse{Choices: []oaChoice{{Delta: &oaMessage{Content: "a"}}}})
		w.Write([]byte("data: "))
		w.Write(chunk)
		w.Write([]byte("\n\n"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-blocked
	}))
	defer server.Close()
	defer close(blocked)

	ctx, cancel := context.WithCancel(context.Background())
	p := NewOpenAIProvider(OpenAIConfig{APIKey: "sk", BaseURL: server.URL}, nil)
	ch, err := p.Stream(ctx, &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)

	<-ch
	cancel()
	// channel must close once the context is gone
	for range ch {
	}
}
