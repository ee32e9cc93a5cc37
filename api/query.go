package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/agrosense/agrosense/stream"
	"github.com/agrosense/agrosense/types"
	"github.com/agrosense/agrosense/workflow"
)

// maxQueryLength bounds the user text, in runes.
const maxQueryLength = 4000

// QueryRunner drives one query and emits its events on the session.
// The workflow engine implements it.
type QueryRunner interface {
	Run(query types.Query, session *stream.Session) *workflow.WorkflowState
}

// QueryRequest is the payload of POST /v1/query.
type QueryRequest struct {
	ConversationID string             `json:"conversation_id"`
	Text           string             `json:"text"`
	Farm           *types.FarmContext `json:"farm,omitempty"`
}

func (r *QueryRequest) validate() error {
	if r.Text == "" {
		return fmt.Errorf("text is required")
	}
	if utf8.RuneCountInString(r.Text) > maxQueryLength {
		return fmt.Errorf("text exceeds %d characters", maxQueryLength)
	}
	return nil
}

// QueryHandler serves the streaming query endpoint.
type QueryHandler struct {
	runner QueryRunner
	buffer int
	logger *zap.Logger
}

// NewQueryHandler creates the handler. buffer is the per-query event
// channel capacity.
func NewQueryHandler(runner QueryRunner, buffer int, logger *zap.Logger) *QueryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryHandler{
		runner: runner,
		buffer: buffer,
		logger: logger.With(zap.String("handler", "query")),
	}
}

// HandleSSE answers POST /v1/query with a Server-Sent Events stream:
// one "data:" line per protocol event, ending after the terminal
// event. Client disconnect cancels the running workflow.
func (h *QueryHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, h.logger, types.ErrCodeInternal, "streaming unsupported by this connection")
		return
	}

	query := types.NewQuery(req.ConversationID, req.Text, req.Farm)
	session := stream.NewSession(r.Context(), query.ID, h.buffer)

	go h.runner.Run(query, session)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range session.Events() {
		payload, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("event marshal failed", zap.String("query_id", query.ID), zap.Error(err))
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			// client went away; the session context tears down the workflow
			session.Cancel()
			return
		}
		flusher.Flush()
	}
}

func (h *QueryHandler) decode(w http.ResponseWriter, r *http.Request) (QueryRequest, bool) {
	var req QueryRequest
	if r.Method != http.MethodPost {
		writeError(w, h.logger, types.ErrCodeValidation, "method not allowed")
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, types.ErrCodeValidation, fmt.Sprintf("invalid JSON body: %v", err))
		return req, false
	}
	if err := req.validate(); err != nil {
		writeError(w, h.logger, types.ErrCodeValidation, err.Error())
		return req, false
	}
	return req, true
}
