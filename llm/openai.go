package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OpenAIConfig configures the OpenAI-compatible provider. Any backend
// speaking the /v1/chat/completions dialect works: OpenAI itself,
// Azure gateways, or a local vLLM.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	// DefaultModel is used when a request does not name a model.
	DefaultModel string
	// Timeout bounds each HTTP request. Defaults to 60s.
	Timeout time.Duration
	// EndpointPath defaults to /v1/chat/completions.
	EndpointPath string
}

// OpenAIProvider talks to an OpenAI-compatible chat completions API.
type OpenAIProvider struct {
	config OpenAIConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAIProvider creates the provider.
func NewOpenAIProvider(config OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com"
	}
	if config.EndpointPath == "" {
		config.EndpointPath = "/v1/chat/completions"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIProvider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.With(zap.String("provider", "openai")),
	}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string { return "openai" }

// wire format

type oaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type oaRequest struct {
	Model       string      `json:"model"`
	Messages    []oaMessage `json:"messages"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Temperature float32     `json:"temperature,omitempty"`
	Stop        []string    `json:"stop,omitempty"`
	Stream      bool        `json:"stream,omitempty"`
}

type oaChoice struct {
	Index        int        `json:"index"`
	FinishReason string     `json:"finish_reason"`
	Message      *oaMessage `json:"message,omitempty"`
	Delta        *oaMessage `json:"delta,omitempty"`
}

type oaUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type oaResponse struct {
	ID      string     `json:"id"`
	Model   string     `json:"model"`
	Created int64      `json:"created"`
	Choices []oaChoice `json:"choices"`
	Usage   *oaUsage   `json:"usage,omitempty"`
}

func (p *OpenAIProvider) endpoint() string {
	return strings.TrimRight(p.config.BaseURL, "/") + p.config.EndpointPath
}

func (p *OpenAIProvider) buildBody(req *ChatRequest, stream bool) oaRequest {
	model := req.Model
	if model == "" {
		model = p.config.DefaultModel
	}
	messages := make([]oaMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, oaMessage{Role: string(m.Role), Content: m.Content, Name: m.Name})
	}
	return oaRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
		Stream:      stream,
	}
}

func (p *OpenAIProvider) post(ctx context.Context, body oaRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Code: ErrUpstreamError, Message: err.Error(), Retryable: true, Provider: p.Name()}
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body), p.Name())
	}
	return resp, nil
}

// Completion issues a synchronous chat request.
func (p *OpenAIProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	resp, err := p.post(ctx, p.buildBody(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var oa oaResponse
	if err := json.NewDecoder(resp.Body).Decode(&oa); err != nil {
		return nil, &Error{Code: ErrUpstreamError, Message: err.Error(), Retryable: true, Provider: p.Name()}
	}
	if len(oa.Choices) == 0 {
		return nil, &Error{Code: ErrUpstreamError, Message: "response carried no choices", Provider: p.Name()}
	}

	choice := oa.Choices[0]
	out := &ChatResponse{
		ID:           oa.ID,
		Provider:     p.Name(),
		Model:        oa.Model,
		FinishReason: choice.FinishReason,
	}
	if choice.Message != nil {
		out.Content = choice.Message.Content
	}
	if oa.Usage != nil {
		out.Usage = ChatUsage{
			PromptTokens:     oa.Usage.PromptTokens,
			CompletionTokens: oa.Usage.CompletionTokens,
			TotalTokens:      oa.Usage.TotalTokens,
		}
	}
	if oa.Created != 0 {
		out.CreatedAt = time.Unix(oa.Created, 0)
	}
	return out, nil
}

// Stream issues a streaming chat request over SSE.
func (p *OpenAIProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	resp, err := p.post(ctx, p.buildBody(req, true))
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk)
	go func() {
		defer resp.Body.Close()
		defer close(ch)

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					p.sendChunk(ctx, ch, StreamChunk{Err: &Error{
						Code: ErrUpstreamError, Message: err.Error(), Retryable: true, Provider: p.Name(),
					}})
				}
				return
			}
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var oa oaResponse
			if err := json.Unmarshal([]byte(data), &oa); err != nil {
				p.sendChunk(ctx, ch, StreamChunk{Err: &Error{
					Code: ErrUpstreamError, Message: err.Error(), Provider: p.Name(),
				}})
				return
			}
			for _, choice := range oa.Choices {
				chunk := StreamChunk{ID: oa.ID, FinishReason: choice.FinishReason}
				if choice.Delta != nil {
					chunk.Delta = choice.Delta.Content
				}
				if oa.Usage != nil {
					chunk.Usage = &ChatUsage{
						PromptTokens:     oa.Usage.PromptTokens,
						CompletionTokens: oa.Usage.CompletionTokens,
						TotalTokens:      oa.Usage.TotalTokens,
					}
				}
				if !p.sendChunk(ctx, ch, chunk) {
					return
				}
			}
		}
	}()
	return ch, nil
}

func (p *OpenAIProvider) sendChunk(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func readErrorMessage(body io.Reader) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

func mapHTTPError(status int, message, provider string) *Error {
	e := &Error{Message: message, Provider: provider}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Code = ErrUnauthorized
	case status == http.StatusTooManyRequests:
		e.Code = ErrRateLimited
		e.Retryable = true
	case status == http.StatusBadRequest:
		e.Code = ErrInvalidRequest
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e.Code = ErrUpstreamTimeout
		e.Retryable = true
	case status == http.StatusServiceUnavailable:
		e.Code = ErrProviderUnavailable
		e.Retryable = true
	case status >= 500:
		e.Code = ErrUpstreamError
		e.Retryable = true
	default:
		e.Code = ErrUpstreamError
	}
	return e
}
