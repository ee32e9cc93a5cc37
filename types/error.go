package types

import (
	"errors"
	"fmt"
)

// ErrorCode is a machine-readable error classification shared across
// the orchestrator and surfaced to clients on the error event.
type ErrorCode string

const (
	ErrCodePlanning        ErrorCode = "PLANNING_ERROR"
	ErrCodeUnknownRole     ErrorCode = "UNKNOWN_AGENT_ROLE"
	ErrCodeToolTimeout     ErrorCode = "TOOL_TIMEOUT"
	ErrCodeToolFailure     ErrorCode = "TOOL_FAILURE"
	ErrCodeCircuitOpen     ErrorCode = "CIRCUIT_OPEN"
	ErrCodeNoUsableResults ErrorCode = "NO_USABLE_RESULTS"
	ErrCodeCancelled       ErrorCode = "CANCELLED"
	ErrCodeDeadline        ErrorCode = "DEADLINE_EXCEEDED"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
)

// Error is the coded error carried across component boundaries.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates a coded error.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithRetryable marks the error retryable and returns it.
func (e *Error) WithRetryable() *Error {
	e.Retryable = true
	return e
}

// CodeOf extracts the ErrorCode from err, unwrapping as needed.
// Unclassified errors map to ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ErrCodeInternal
}
