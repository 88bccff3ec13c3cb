package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsim/agentsim/internal/protocol"
)

func newTestHTTPServer(t *testing.T) (*httptest.Server, *SessionManager) {
	t.Helper()

	sm := NewSessionManager(testServerConfig(), nil, nil)
	srv := NewServer(sm, testServerConfig(), nil)

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		_ = sm.Close()
	})
	return ts, sm
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	resp, err := http.Post(url, "application/json", reader)
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCreateSessionEndpoint(t *testing.T) {
	ts, sm := newTestHTTPServer(t)

	resp := postJSON(t, ts.URL+"/api/sessions", map[string]interface{}{
		"command": "sh",
		"args":    []string{"-c", "echo hi"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	sessionID, _ := body["session_id"].(string)
	require.NotEmpty(t, sessionID)
	assert.Equal(t, "running", body["status"])

	session, err := sm.GetSession(sessionID)
	require.NoError(t, err)
	waitForFinish(t, session)
}

func TestCreateSessionEndpoint_MissingCommand(t *testing.T) {
	ts, _ := newTestHTTPServer(t)

	resp := postJSON(t, ts.URL+"/api/sessions", map[string]interface{}{
		"args": []string{"-c", "true"},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeJSON(t, resp)
	assert.Equal(t, protocol.ErrorCodeInvalidRequest, body["error_code"])
}

func TestCreateSessionEndpoint_BadJSON(t *testing.T) {
	ts, _ := newTestHTTPServer(t)

	resp, err := http.Post(ts.URL+"/api/sessions", "application/json",
		strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	ts, sm := newTestHTTPServer(t)

	session, err := sm.CreateSession("sh", []string{"-c", "echo hi"})
	require.NoError(t, err)
	waitForFinish(t, session)

	resp, err := http.Get(ts.URL + "/api/sessions/" + session.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	assert.Equal(t, session.ID, body["session_id"])
	assert.Equal(t, "stopped", body["status"])
	assert.Equal(t, false, body["is_running"])
	assert.Equal(t, float64(0), body["exit_code"])
	assert.Contains(t, body, "uptime_seconds")
}

func TestStatusEndpoint_NotFound(t *testing.T) {
	ts, _ := newTestHTTPServer(t)

	resp, err := http.Get(ts.URL + "/api/sessions/no-such-session")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLogsEndpoint(t *testing.T) {
	ts, sm := newTestHTTPServer(t)

	session, err := sm.CreateSession("sh", []string{"-c", "echo one; echo two; echo three"})
	require.NoError(t, err)
	waitForFinish(t, session)

	resp, err := http.Get(ts.URL + "/api/sessions/" + session.ID + "/logs?lines=2")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	assert.Equal(t, float64(2), body["count"])

	lines, ok := body["lines"].([]interface{})
	require.True(t, ok)
	require.Len(t, lines, 2)

	last := lines[1].(map[string]interface{})
	assert.Equal(t, "three", last["content"])
}

func TestLogsEndpoint_InvalidLines(t *testing.T) {
	ts, sm := newTestHTTPServer(t)

	session, err := sm.CreateSession("sh", []string{"-c", "true"})
	require.NoError(t, err)
	waitForFinish(t, session)

	resp, err := http.Get(ts.URL + "/api/sessions/" + session.ID + "/logs?lines=banana")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInterruptEndpoint(t *testing.T) {
	ts, sm := newTestHTTPServer(t)

	session, err := sm.CreateSession("sh", []string{"-c",
		"trap 'exit 1' INT; echo ready; while true; do sleep 0.05; done"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(session.RecentLines(0)) > 0
	}, 2*time.Second, 10*time.Millisecond)

	resp := postJSON(t, ts.URL+"/api/sessions/"+session.ID+"/interrupt", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	assert.Equal(t, "interrupted", body["status"])

	waitForFinish(t, session)
	assert.Equal(t, protocol.StatusInterrupted, session.Status())
}

func TestInterruptEndpoint_NotFound(t *testing.T) {
	ts, _ := newTestHTTPServer(t)

	resp := postJSON(t, ts.URL+"/api/sessions/no-such-session/interrupt", nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInterruptEndpoint_AlreadyStopped(t *testing.T) {
	ts, sm := newTestHTTPServer(t)

	session, err := sm.CreateSession("sh", []string{"-c", "true"})
	require.NoError(t, err)
	waitForFinish(t, session)

	resp := postJSON(t, ts.URL+"/api/sessions/"+session.ID+"/interrupt", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	assert.Equal(t, "already_stopped", body["status"])
}

func TestCleanupEndpoint(t *testing.T) {
	ts, _ := newTestHTTPServer(t)

	resp := postJSON(t, ts.URL+"/api/sessions/cleanup", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	assert.Contains(t, body, "cleaned")
	assert.Contains(t, body, "active")
}

// streamURL converts an httptest server URL into the WebSocket URL for
// a session stream.
func streamURL(ts *httptest.Server, sessionID string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") +
		fmt.Sprintf("/api/sessions/%s/stream", sessionID)
}

// readFrames reads stream frames until the closed frame or a read error.
func readFrames(t *testing.T, conn *websocket.Conn) []interface{} {
	t.Helper()

	var frames []interface{}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return frames
		}

		msg, err := protocol.ParseMessage(data)
		require.NoError(t, err)
		frames = append(frames, msg)

		if _, closed := msg.(*protocol.ClosedMessage); closed {
			return frames
		}
	}
}

func TestStreamEndpoint_ReplaysFinishedSession(t *testing.T) {
	ts, sm := newTestHTTPServer(t)

	session, err := sm.CreateSession("sh", []string{"-c", "echo one; echo two"})
	require.NoError(t, err)
	waitForFinish(t, session)

	conn, _, err := websocket.DefaultDialer.Dial(streamURL(ts, session.ID), nil)
	require.NoError(t, err)
	defer conn.Close()

	frames := readFrames(t, conn)
	require.Len(t, frames, 4)

	connected, ok := frames[0].(*protocol.ConnectedMessage)
	require.True(t, ok)
	assert.Equal(t, session.ID, connected.SessionID)

	first, ok := frames[1].(*protocol.OutputMessage)
	require.True(t, ok)
	assert.Equal(t, "one", first.Content)

	second, ok := frames[2].(*protocol.OutputMessage)
	require.True(t, ok)
	assert.Equal(t, "two", second.Content)

	_, ok = frames[3].(*protocol.ClosedMessage)
	assert.True(t, ok)
}

func TestStreamEndpoint_LiveSession(t *testing.T) {
	ts, sm := newTestHTTPServer(t)

	session, err := sm.CreateSession("sh", []string{"-c", "sleep 0.2; echo live"})
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(streamURL(ts, session.ID), nil)
	require.NoError(t, err)
	defer conn.Close()

	frames := readFrames(t, conn)
	require.NotEmpty(t, frames)

	var sawOutput, sawStatus, sawClosed bool
	for _, frame := range frames {
		switch m := frame.(type) {
		case *protocol.OutputMessage:
			assert.Equal(t, "live", m.Content)
			sawOutput = true
		case *protocol.StatusMessage:
			assert.Equal(t, protocol.StatusStopped, m.Status)
			sawStatus = true
		case *protocol.ClosedMessage:
			sawClosed = true
		}
	}
	assert.True(t, sawOutput)
	assert.True(t, sawStatus)
	assert.True(t, sawClosed)

	waitForFinish(t, session)
}

func TestStreamEndpoint_NotFound(t *testing.T) {
	ts, _ := newTestHTTPServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(streamURL(ts, "no-such-session"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamEndpoint_TracksAttachments(t *testing.T) {
	ts, sm := newTestHTTPServer(t)

	session, err := sm.CreateSession("sh", []string{"-c", "true"})
	require.NoError(t, err)
	waitForFinish(t, session)

	conn, _, err := websocket.DefaultDialer.Dial(streamURL(ts, session.ID), nil)
	require.NoError(t, err)
	readFrames(t, conn)
	conn.Close()

	require.Eventually(t, func() bool {
		st := sm.Monitor().GetStreamMetrics()
		return st.Attached == 1 && st.Active == 0
	}, 2*time.Second, 10*time.Millisecond)
}
