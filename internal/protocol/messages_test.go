package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOutputMessage(t *testing.T) {
	msg := NewOutputMessage("sess-1", "Count: 1/20", StreamStdout)

	assert.Equal(t, MessageTypeOutput, msg.Type)
	assert.Equal(t, "sess-1", msg.SessionID)
	assert.Equal(t, "Count: 1/20", msg.Content)
	assert.Equal(t, StreamStdout, msg.Stream)
	assert.WithinDuration(t, time.Now(), msg.Timestamp, time.Second)
}

func TestSerializeAndParseOutput(t *testing.T) {
	msg := NewOutputMessage("sess-1", "[INFO] Starting counting task...", StreamStdout)

	data, err := SerializeMessage(msg)
	require.NoError(t, err)

	parsed, err := ParseMessage(data)
	require.NoError(t, err)

	out, ok := parsed.(*OutputMessage)
	require.True(t, ok, "expected *OutputMessage, got %T", parsed)
	assert.Equal(t, msg.Content, out.Content)
	assert.Equal(t, msg.Stream, out.Stream)
	assert.Equal(t, msg.SessionID, out.SessionID)
}

func TestParseStatusMessage(t *testing.T) {
	pid := 4321
	exitCode := 1
	msg := NewStatusMessage("sess-2", StatusInterrupted, &pid, &exitCode)

	data, err := SerializeMessage(msg)
	require.NoError(t, err)

	parsed, err := ParseMessage(data)
	require.NoError(t, err)

	status, ok := parsed.(*StatusMessage)
	require.True(t, ok)
	assert.Equal(t, StatusInterrupted, status.Status)
	require.NotNil(t, status.PID)
	assert.Equal(t, 4321, *status.PID)
	require.NotNil(t, status.ExitCode)
	assert.Equal(t, 1, *status.ExitCode)
}

func TestParseMessage_UnknownType(t *testing.T) {
	_, err := ParseMessage([]byte(`{"type":"bogus","session_id":"x"}`))
	assert.Error(t, err)
}

func TestParseMessage_InvalidJSON(t *testing.T) {
	_, err := ParseMessage([]byte(`{not json`))
	assert.Error(t, err)
}

func TestStatusOmitsEmptyPID(t *testing.T) {
	msg := NewStatusMessage("sess-3", StatusRunning, nil, nil)

	data, err := SerializeMessage(msg)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	_, hasPID := raw["pid"]
	assert.False(t, hasPID, "nil pid should be omitted")
	_, hasExit := raw["exit_code"]
	assert.False(t, hasExit, "nil exit_code should be omitted")
}

func TestSessionStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusRunning.IsTerminal())
	assert.True(t, StatusStopped.IsTerminal())
	assert.True(t, StatusInterrupted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
}

func TestValidStatus(t *testing.T) {
	assert.True(t, ValidStatus(StatusRunning))
	assert.False(t, ValidStatus(SessionStatus("sleeping")))
}
