package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"testing"

	"github.com/agentsim/agentsim/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentError_Error(t *testing.T) {
	err := SessionError("SESSION_CLOSED", "Session is closed", nil)
	assert.Equal(t, "session (SESSION_CLOSED): Session is closed", err.Error())

	wrapped := ProcessError("PROCESS_FAILED", "Process execution failed", fmt.Errorf("exit status 1"))
	assert.Contains(t, wrapped.Error(), "exit status 1")
}

func TestAgentError_Unwrap(t *testing.T) {
	underlying := fmt.Errorf("boom")
	err := InternalError("UNKNOWN_ERROR", "Unknown error", underlying)

	assert.Equal(t, underlying, stderrors.Unwrap(err))
	assert.True(t, stderrors.Is(err, underlying))
}

func TestAgentError_Is(t *testing.T) {
	err := SessionError(protocol.ErrorCodeSessionNotFound, "Session not found", nil)
	assert.True(t, stderrors.Is(err, ErrSessionNotFound))
	assert.False(t, stderrors.Is(err, ErrSessionClosed))
}

func TestErrInterrupted_IsNotAnAgentError(t *testing.T) {
	// The interruption sentinel must survive wrapping so the top-level
	// caller can suppress the error-stream report.
	wrapped := fmt.Errorf("run: %w", ErrInterrupted)
	assert.True(t, stderrors.Is(wrapped, ErrInterrupted))
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType ErrorType
	}{
		{"nil", nil, ""},
		{"canceled", context.Canceled, ErrorTypeTask},
		{"not exist", os.ErrNotExist, ErrorTypeProcess},
		{"permission", os.ErrPermission, ErrorTypeProcess},
		{"network", &net.OpError{Op: "dial", Err: fmt.Errorf("refused")}, ErrorTypeNetwork},
		{"unknown", fmt.Errorf("weird"), ErrorTypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := ClassifyError(tt.err)
			if tt.err == nil {
				assert.Nil(t, classified)
				return
			}
			require.NotNil(t, classified)
			assert.Equal(t, tt.wantType, classified.Type)
		})
	}
}

func TestClassifyError_PassesThroughAgentError(t *testing.T) {
	original := TaskError("STEP_FAILED", "Step failed", nil)
	classified := ClassifyError(fmt.Errorf("outer: %w", original))
	assert.Same(t, original, classified)
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil, "context"))

	wrapped := WrapError(os.ErrNotExist, "starting session")
	require.NotNil(t, wrapped)
	assert.Equal(t, ErrorTypeProcess, wrapped.Type)
	assert.Contains(t, wrapped.Message, "starting session")
}

func TestWrapError_DoesNotMutateSentinel(t *testing.T) {
	wrapped := WrapError(ErrSessionNotFound, "looking up session")

	assert.Contains(t, wrapped.Message, "looking up session")
	assert.Equal(t, "Session not found", ErrSessionNotFound.Message)
	assert.True(t, stderrors.Is(wrapped, ErrSessionNotFound))
}

func TestToProtocolError(t *testing.T) {
	err := SessionError(protocol.ErrorCodeSessionNotFound, "Session not found", nil)
	msg := err.ToProtocolError("sess-1")

	assert.Equal(t, protocol.MessageTypeError, msg.Type)
	assert.Equal(t, "sess-1", msg.SessionID)
	assert.Equal(t, protocol.ErrorCodeSessionNotFound, msg.ErrorCode)
}

func TestIsTypeAndGetCode(t *testing.T) {
	err := NetworkError("CONNECTION_LOST", "Connection lost", nil)

	assert.True(t, IsType(err, ErrorTypeNetwork))
	assert.False(t, IsType(err, ErrorTypeTask))
	assert.Equal(t, "CONNECTION_LOST", GetCode(err))
	assert.Equal(t, "UNKNOWN_ERROR", GetCode(fmt.Errorf("plain")))
}

func TestLogAttrs(t *testing.T) {
	err := ProcessError("PROCESS_FAILED", "Process execution failed", fmt.Errorf("exit status 2"))
	attrs := err.LogAttrs()

	keys := make(map[string]bool)
	for _, a := range attrs {
		keys[a.Key] = true
	}
	assert.True(t, keys["error_type"])
	assert.True(t, keys["error_code"])
	assert.True(t, keys["underlying_error"])
}
