// Package protocol defines the JSON messages exchanged on a session
// stream between the agentsim server and attached clients.
//
// Every frame sent over the session WebSocket is one of the message
// structs below, discriminated by the "type" field:
//
//   - connected: first frame after a client attaches
//   - output:    one captured line of process output
//   - status:    lifecycle change (running, stopped, interrupted, failed)
//   - error:     a server-side error related to the session
//   - closed:    final frame, no more output will follow
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType discriminates stream messages.
type MessageType string

const (
	MessageTypeConnected MessageType = "connected"
	MessageTypeOutput    MessageType = "output"
	MessageTypeStatus    MessageType = "status"
	MessageTypeError     MessageType = "error"
	MessageTypeClosed    MessageType = "closed"
)

// StreamType identifies which pipe a line of output came from.
type StreamType string

const (
	StreamStdout StreamType = "stdout"
	StreamStderr StreamType = "stderr"
)

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	StatusRunning     SessionStatus = "running"
	StatusStopped     SessionStatus = "stopped"
	StatusInterrupted SessionStatus = "interrupted"
	StatusFailed      SessionStatus = "failed"
)

// Error codes used in ErrorMessage frames and HTTP error responses.
const (
	ErrorCodeSessionNotFound = "SESSION_NOT_FOUND"
	ErrorCodeProcessFailed   = "PROCESS_FAILED"
	ErrorCodeInvalidRequest  = "INVALID_REQUEST"
	ErrorCodeInternalError   = "INTERNAL_ERROR"
)

// BaseMessage contains the fields common to all stream messages.
type BaseMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

// ConnectedMessage is the first frame a client receives after attaching.
type ConnectedMessage struct {
	BaseMessage
	Command string `json:"command,omitempty"`
}

// OutputMessage carries one captured line of process output.
type OutputMessage struct {
	BaseMessage
	Content   string     `json:"content"`
	Stream    StreamType `json:"stream"`
	Timestamp time.Time  `json:"timestamp"`
}

// StatusMessage reports a session lifecycle change.
type StatusMessage struct {
	BaseMessage
	Status   SessionStatus `json:"status"`
	PID      *int          `json:"pid,omitempty"`
	ExitCode *int          `json:"exit_code,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// ErrorMessage reports a server-side error on the stream.
type ErrorMessage struct {
	BaseMessage
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// ClosedMessage is the final frame on a stream.
type ClosedMessage struct {
	BaseMessage
}

// NewConnectedMessage creates a connected frame.
func NewConnectedMessage(sessionID, command string) *ConnectedMessage {
	return &ConnectedMessage{
		BaseMessage: BaseMessage{Type: MessageTypeConnected, SessionID: sessionID},
		Command:     command,
	}
}

// NewOutputMessage creates an output frame for one line.
func NewOutputMessage(sessionID, content string, stream StreamType) *OutputMessage {
	return &OutputMessage{
		BaseMessage: BaseMessage{Type: MessageTypeOutput, SessionID: sessionID},
		Content:     content,
		Stream:      stream,
		Timestamp:   time.Now(),
	}
}

// NewStatusMessage creates a status frame.
func NewStatusMessage(sessionID string, status SessionStatus, pid, exitCode *int) *StatusMessage {
	return &StatusMessage{
		BaseMessage: BaseMessage{Type: MessageTypeStatus, SessionID: sessionID},
		Status:      status,
		PID:         pid,
		ExitCode:    exitCode,
	}
}

// NewErrorMessage creates an error frame.
func NewErrorMessage(sessionID, errorCode, message string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: BaseMessage{Type: MessageTypeError, SessionID: sessionID},
		ErrorCode:   errorCode,
		Message:     message,
	}
}

// NewClosedMessage creates the terminal frame for a stream.
func NewClosedMessage(sessionID string) *ClosedMessage {
	return &ClosedMessage{
		BaseMessage: BaseMessage{Type: MessageTypeClosed, SessionID: sessionID},
	}
}

// SerializeMessage marshals any stream message to JSON.
func SerializeMessage(msg interface{}) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}
	return data, nil
}

// ParseMessage parses a raw frame into the concrete message struct for
// its type.
func ParseMessage(data []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("failed to parse message envelope: %w", err)
	}

	switch base.Type {
	case MessageTypeConnected:
		var msg ConnectedMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse connected message: %w", err)
		}
		return &msg, nil
	case MessageTypeOutput:
		var msg OutputMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse output message: %w", err)
		}
		return &msg, nil
	case MessageTypeStatus:
		var msg StatusMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse status message: %w", err)
		}
		return &msg, nil
	case MessageTypeError:
		var msg ErrorMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse error message: %w", err)
		}
		return &msg, nil
	case MessageTypeClosed:
		var msg ClosedMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse closed message: %w", err)
		}
		return &msg, nil
	default:
		return nil, fmt.Errorf("unknown message type: %s", base.Type)
	}
}

// IsTerminal reports whether a status means the session has finished.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusStopped || s == StatusInterrupted || s == StatusFailed
}

// ValidStatus reports whether s is a known session status.
func ValidStatus(s SessionStatus) bool {
	switch s {
	case StatusRunning, StatusStopped, StatusInterrupted, StatusFailed:
		return true
	}
	return false
}
