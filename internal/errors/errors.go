// Package errors provides structured error types for agentsim.
//
// Errors are categorized so that the CLI and the session server can
// report them consistently: a graceful interruption is distinguished
// from real failures, and every other error carries a type and code
// that map onto protocol error frames and log attributes.
package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/agentsim/agentsim/internal/protocol"
)

// ErrInterrupted marks a run that was stopped by a termination request.
// It is not a failure; callers translate it into exit code 1 without
// writing to the error stream.
var ErrInterrupted = errors.New("task was interrupted")

// ErrorType represents the category of error.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeTask       ErrorType = "task"
	ErrorTypeProcess    ErrorType = "process"
	ErrorTypeSession    ErrorType = "session"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeInternal   ErrorType = "internal"
)

// AgentError is the base error type for all agentsim errors.
type AgentError struct {
	Type       ErrorType
	Code       string
	Message    string
	Underlying error
	Timestamp  time.Time
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Type, e.Code, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AgentError) Unwrap() error {
	return e.Underlying
}

// Is matches AgentErrors on type and code.
func (e *AgentError) Is(target error) bool {
	if t, ok := target.(*AgentError); ok {
		return e.Type == t.Type && e.Code == t.Code
	}
	return false
}

// ToProtocolError converts the error to a protocol ErrorMessage frame.
func (e *AgentError) ToProtocolError(sessionID string) *protocol.ErrorMessage {
	return protocol.NewErrorMessage(sessionID, e.Code, e.Message)
}

// LogAttrs returns slog attributes describing the error.
func (e *AgentError) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("error_type", string(e.Type)),
		slog.String("error_code", e.Code),
		slog.String("error_message", e.Message),
	}
	if e.Underlying != nil {
		attrs = append(attrs, slog.String("underlying_error", e.Underlying.Error()))
	}
	return attrs
}

func newError(errorType ErrorType, code, message string, underlying error) *AgentError {
	return &AgentError{
		Type:       errorType,
		Code:       code,
		Message:    message,
		Underlying: underlying,
		Timestamp:  time.Now(),
	}
}

// ValidationError creates a validation error.
func ValidationError(code, message string, underlying error) *AgentError {
	return newError(ErrorTypeValidation, code, message, underlying)
}

// TaskError creates a task execution error.
func TaskError(code, message string, underlying error) *AgentError {
	return newError(ErrorTypeTask, code, message, underlying)
}

// ProcessError creates a process-related error.
func ProcessError(code, message string, underlying error) *AgentError {
	return newError(ErrorTypeProcess, code, message, underlying)
}

// SessionError creates a session-related error.
func SessionError(code, message string, underlying error) *AgentError {
	return newError(ErrorTypeSession, code, message, underlying)
}

// NetworkError creates a network-related error.
func NetworkError(code, message string, underlying error) *AgentError {
	return newError(ErrorTypeNetwork, code, message, underlying)
}

// TimeoutError creates a timeout error.
func TimeoutError(code, message string, underlying error) *AgentError {
	return newError(ErrorTypeTimeout, code, message, underlying)
}

// InternalError creates an internal error.
func InternalError(code, message string, underlying error) *AgentError {
	return newError(ErrorTypeInternal, code, message, underlying)
}

// Predefined error instances.
var (
	ErrUnknownTask     = ValidationError("UNKNOWN_TASK", "Unknown task name", nil)
	ErrNegativeDelay   = ValidationError("NEGATIVE_DELAY", "Delay must be non-negative", nil)
	ErrSessionNotFound = SessionError(protocol.ErrorCodeSessionNotFound, "Session not found", nil)
	ErrSessionClosed   = SessionError("SESSION_CLOSED", "Session is closed", nil)
	ErrConnectionLost  = NetworkError("CONNECTION_LOST", "Connection lost", nil)
)

// ClassifyError converts a standard Go error into an AgentError.
func ClassifyError(err error) *AgentError {
	if err == nil {
		return nil
	}

	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr
	}

	switch {
	case errors.Is(err, context.Canceled):
		return TaskError("CANCELED", "Operation canceled", err)
	case os.IsNotExist(err):
		return ProcessError("COMMAND_NOT_FOUND", "Command not found", err)
	case os.IsPermission(err):
		return ProcessError("PERMISSION_DENIED", "Permission denied", err)
	case os.IsTimeout(err):
		return TimeoutError("TIMEOUT", "Operation timeout", err)
	case isNetworkError(err):
		return NetworkError("NETWORK_ERROR", "Network error", err)
	default:
		return InternalError("UNKNOWN_ERROR", "Unknown error", err)
	}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// WrapError wraps an existing error with additional context. The
// classified error is copied before the message is rewritten, so
// wrapping a predefined sentinel leaves the package-level value intact.
func WrapError(err error, message string) *AgentError {
	if err == nil {
		return nil
	}

	wrapped := *ClassifyError(err)
	wrapped.Message = message + ": " + wrapped.Message
	return &wrapped
}

// IsType checks if an error is of a specific type.
func IsType(err error, errorType ErrorType) bool {
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr.Type == errorType
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) string {
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr.Code
	}
	return "UNKNOWN_ERROR"
}
