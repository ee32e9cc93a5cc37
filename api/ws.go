package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/agrosense/agrosense/stream"
	"github.com/agrosense/agrosense/types"
)

// HandleWebSocket answers GET /v1/query/ws. The client sends one
// QueryRequest as a text frame; the server answers with one frame per
// protocol event and closes after the terminal event. WebSocket writes
// are serialized by the single reader loop, no extra locking needed.
func (h *QueryHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected shutdown")

	ctx := r.Context()

	_, data, err := conn.Read(ctx)
	if err != nil {
		return
	}
	var req QueryRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.closeWithError(ctx, conn, types.ErrCodeValidation, "invalid JSON payload")
		return
	}
	if err := req.validate(); err != nil {
		h.closeWithError(ctx, conn, types.ErrCodeValidation, err.Error())
		return
	}

	query := types.NewQuery(req.ConversationID, req.Text, req.Farm)
	session := stream.NewSession(ctx, query.ID, h.buffer)

	go h.runner.Run(query, session)

	for ev := range session.Events() {
		payload, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("event marshal failed", zap.String("query_id", query.ID), zap.Error(err))
			return
		}
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			session.Cancel()
			return
		}
	}
	conn.Close(websocket.StatusNormalClosure, "stream complete")
}

// closeWithError sends one terminal error event before closing.
func (h *QueryHandler) closeWithError(ctx context.Context, conn *websocket.Conn, code types.ErrorCode, message string) {
	ev := stream.Event{
		Kind: stream.KindError,
		Err:  &types.Error{Code: code, Message: message},
	}
	if payload, err := json.Marshal(ev); err == nil {
		_ = conn.Write(ctx, websocket.MessageText, payload)
	}
	conn.Close(websocket.StatusPolicyViolation, message)
}
