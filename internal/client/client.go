// Package client provides the HTTP and WebSocket client used by the
// agentsim CLI to talk to a session server.
//
// The HTTP side covers the session API (start, status, logs, interrupt,
// cleanup). The WebSocket side attaches to a session stream, retrying
// the dial with exponential backoff, and hands every frame to a caller
// supplied handler until the stream closes.
//
// Example usage:
//
//	c := client.NewClient("http://localhost:9000", cfg.Stream, logger)
//	info, err := c.StartSession(ctx, "agentsim", []string{"run", "--task", "count"})
//	if err != nil {
//		return err
//	}
//	err = c.Stream(ctx, info.SessionID, func(msg interface{}) error {
//		// Handle stream frames
//		return nil
//	})
package client

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/agentsim/agentsim/internal/config"
	"github.com/agentsim/agentsim/internal/errors"
	"github.com/agentsim/agentsim/internal/logging"
	"github.com/agentsim/agentsim/internal/protocol"
)

// Client talks to one agentsim session server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cfg        config.StreamConfig
	logger     *logging.Logger
}

// NewClient creates a client for the server at baseURL, for example
// "http://localhost:9000".
func NewClient(baseURL string, cfg config.StreamConfig, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cfg:        cfg,
		logger:     logger,
	}
}

// SessionInfo is the response to starting a session.
type SessionInfo struct {
	SessionID string   `json:"session_id"`
	Status    string   `json:"status"`
	Command   string   `json:"command"`
	Args      []string `json:"args"`
}

// SessionStatus is the response to a status query.
type SessionStatus struct {
	SessionID     string    `json:"session_id"`
	Command       string    `json:"command"`
	Status        string    `json:"status"`
	IsRunning     bool      `json:"is_running"`
	StartTime     time.Time `json:"start_time"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	PID           *int      `json:"pid,omitempty"`
	ExitCode      *int      `json:"exit_code,omitempty"`
}

// LogLine is one buffered output line returned by the logs endpoint.
type LogLine struct {
	Content   string              `json:"content"`
	Stream    protocol.StreamType `json:"stream"`
	Timestamp time.Time           `json:"timestamp"`
}

// InterruptResult is the response to an interrupt request.
type InterruptResult struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// CleanupResult is the response to a cleanup request.
type CleanupResult struct {
	Cleaned int `json:"cleaned"`
	Active  int `json:"active"`
}

type errorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
}

// StartSession asks the server to start a new session running command.
func (c *Client) StartSession(ctx context.Context, command string, args []string) (*SessionInfo, error) {
	body := map[string]interface{}{
		"command": command,
		"args":    args,
	}

	var info SessionInfo
	if err := c.doJSON(ctx, http.MethodPost, "/api/sessions", body, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Status fetches the current status of a session.
func (c *Client) Status(ctx context.Context, sessionID string) (*SessionStatus, error) {
	var status SessionStatus
	path := fmt.Sprintf("/api/sessions/%s", url.PathEscape(sessionID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Logs fetches up to lines recent output lines of a session. lines <= 0
// returns everything the server still buffers.
func (c *Client) Logs(ctx context.Context, sessionID string, lines int) ([]LogLine, error) {
	path := fmt.Sprintf("/api/sessions/%s/logs", url.PathEscape(sessionID))
	if lines > 0 {
		path = fmt.Sprintf("%s?lines=%d", path, lines)
	}

	var resp struct {
		SessionID string    `json:"session_id"`
		Count     int       `json:"count"`
		Lines     []LogLine `json:"lines"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Lines, nil
}

// Interrupt requests a graceful stop of a session.
func (c *Client) Interrupt(ctx context.Context, sessionID string) (*InterruptResult, error) {
	var result InterruptResult
	path := fmt.Sprintf("/api/sessions/%s/interrupt", url.PathEscape(sessionID))
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Cleanup asks the server to drop old finished sessions.
func (c *Client) Cleanup(ctx context.Context) (*CleanupResult, error) {
	var result CleanupResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/sessions/cleanup", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// doJSON performs one API request and decodes the JSON response into out.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.InternalError("ENCODE_FAILED", "Failed to encode request body", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.ValidationError("INVALID_URL", "Invalid server URL", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NetworkError("CONNECTION_FAILED", "Failed to reach server", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.decodeError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.NetworkError("DECODE_FAILED", "Failed to decode server response", err)
		}
	}
	return nil
}

// decodeError maps an API error response onto a typed error.
func (c *Client) decodeError(resp *http.Response) error {
	var apiErr errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
		return errors.NetworkError("BAD_RESPONSE",
			fmt.Sprintf("Server returned HTTP %d", resp.StatusCode), err)
	}

	switch apiErr.ErrorCode {
	case protocol.ErrorCodeSessionNotFound:
		return errors.ErrSessionNotFound
	case protocol.ErrorCodeInvalidRequest:
		return errors.ValidationError(apiErr.ErrorCode, apiErr.Error, nil)
	default:
		return errors.SessionError(apiErr.ErrorCode, apiErr.Error, nil)
	}
}

// FrameHandler receives each parsed stream frame. Returning an error
// detaches from the stream and surfaces the error to the caller.
type FrameHandler func(msg interface{}) error

// Stream attaches to a session's output stream and calls handler for
// every frame until the server closes the stream. The dial is retried
// with exponential backoff; a session that does not exist is permanent
// and fails immediately.
func (c *Client) Stream(ctx context.Context, sessionID string, handler FrameHandler) error {
	wsURL, err := c.streamURL(sessionID)
	if err != nil {
		return err
	}

	conn, err := c.dialWithRetry(ctx, wsURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	return c.readStream(ctx, conn, handler)
}

// streamURL derives the WebSocket URL for a session stream from the
// client's HTTP base URL.
func (c *Client) streamURL(sessionID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", errors.ValidationError("INVALID_URL", "Invalid server URL", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// Already a WebSocket URL.
	default:
		return "", errors.ValidationError("INVALID_URL",
			fmt.Sprintf("Unsupported URL scheme %q", u.Scheme), nil)
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/api/sessions/" + url.PathEscape(sessionID) + "/stream"
	return u.String(), nil
}

// dialWithRetry dials the stream endpoint with exponential backoff.
func (c *Client) dialWithRetry(ctx context.Context, wsURL string) (*websocket.Conn, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.ReconnectInitialDelay
	bo.MaxInterval = c.cfg.ReconnectMaxDelay
	bo.MaxElapsedTime = 0 // Attempt limit only, no time limit
	bo.Multiplier = 2.0
	bo.RandomizationFactor = 0.1

	var policy backoff.BackOff = backoff.WithContext(bo, ctx)
	if c.cfg.ReconnectMaxAttempts > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(c.cfg.ReconnectMaxAttempts))
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	attempt := 0
	var conn *websocket.Conn
	operation := func() error {
		attempt++

		dialed, resp, err := dialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			if resp != nil {
				resp.Body.Close()
				// An HTTP response means the server is up and rejected
				// us; retrying will not change its mind.
				if resp.StatusCode == http.StatusNotFound {
					return backoff.Permanent(errors.ErrSessionNotFound)
				}
			}
			if isPermanentDialError(err) {
				return backoff.Permanent(errors.NetworkError("CONNECTION_FAILED", "Failed to connect to stream", err))
			}

			c.logger.Warn("Stream dial failed, retrying",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			return err
		}

		conn = dialed
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		var agentErr *errors.AgentError
		if stderrors.As(err, &agentErr) || stderrors.Is(err, errors.ErrSessionNotFound) {
			return nil, err
		}
		return nil, errors.NetworkError("CONNECTION_FAILED",
			fmt.Sprintf("Failed to connect after %d attempts", attempt), err)
	}
	return conn, nil
}

// isPermanentDialError reports whether a dial error cannot be fixed by
// retrying.
func isPermanentDialError(err error) bool {
	if _, ok := err.(*url.Error); ok {
		return true
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "malformed ws or wss URL"):
		return true
	case strings.Contains(msg, "unsupported protocol scheme"):
		return true
	case strings.Contains(msg, "no such host"):
		return true
	}
	return false
}

// readStream reads frames until the server sends the closed frame or
// the connection drops. Cancelling ctx closes the connection, which
// unblocks an in-flight read on an idle stream.
func (c *Client) readStream(ctx context.Context, conn *websocket.Conn, handler FrameHandler) error {
	// The server pings on an interval; a read deadline refreshed on each
	// ping and frame bounds how long a dead connection can sit silent.
	readTimeout := 2 * c.cfg.PingInterval
	if readTimeout <= 0 {
		readTimeout = time.Minute
	}
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(message string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(message), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.NetworkError("CONNECTION_LOST", "Stream connection lost", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			c.logger.Warn("Skipping unparseable stream frame", slog.String("error", err.Error()))
			continue
		}

		if handler != nil {
			if err := handler(msg); err != nil {
				return err
			}
		}

		if _, closed := msg.(*protocol.ClosedMessage); closed {
			return nil
		}
	}
}
