// Package api exposes the orchestrator over HTTP: a streaming query
// endpoint (SSE and WebSocket), health checks, and Prometheus metrics.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/agrosense/agrosense/types"
)

// Response is the envelope for non-streaming endpoints.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorInfo is the serialized error payload.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: data, Timestamp: time.Now()})
}

func writeError(w http.ResponseWriter, logger *zap.Logger, code types.ErrorCode, message string) {
	status := httpStatus(code)
	if logger != nil {
		logger.Warn("request rejected",
			zap.String("code", string(code)),
			zap.String("message", message),
			zap.Int("status", status))
	}
	writeJSON(w, status, Response{
		Success:   false,
		Error:     &ErrorInfo{Code: string(code), Message: message},
		Timestamp: time.Now(),
	})
}

func httpStatus(code types.ErrorCode) int {
	switch code {
	case types.ErrCodePlanning, types.ErrCodeUnknownRole:
		return http.StatusUnprocessableEntity
	case types.ErrCodeCancelled:
		return 499 // client closed request
	case types.ErrCodeDeadline, types.ErrCodeToolTimeout:
		return http.StatusGatewayTimeout
	case types.ErrCodeCircuitOpen, types.ErrCodeNoUsableResults:
		return http.StatusServiceUnavailable
	case types.ErrCodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
