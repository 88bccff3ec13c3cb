package server

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentsim/agentsim/internal/buffer"
	"github.com/agentsim/agentsim/internal/config"
	"github.com/agentsim/agentsim/internal/errors"
	"github.com/agentsim/agentsim/internal/logging"
	"github.com/agentsim/agentsim/internal/protocol"
)

// Server exposes the session API over HTTP and streams session output
// over WebSocket.
type Server struct {
	sessionManager *SessionManager
	upgrader       websocket.Upgrader
	logger         *logging.Logger
	cfg            config.ServerConfig
}

// NewServer creates the HTTP/WebSocket server for a session manager.
func NewServer(sessionManager *SessionManager, cfg config.ServerConfig, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	return &Server{
		sessionManager: sessionManager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
		cfg:    cfg,
	}
}

// Routes returns the HTTP handler with all session endpoints.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("POST /api/sessions/cleanup", s.handleCleanup)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/sessions/{id}/logs", s.handleLogs)
	mux.HandleFunc("GET /api/sessions/{id}/stream", s.handleStream)
	mux.HandleFunc("POST /api/sessions/{id}/interrupt", s.handleInterrupt)
	return mux
}

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, protocol.ErrorCodeInvalidRequest, "Invalid request body")
		return
	}

	if req.Command == "" {
		s.writeError(w, http.StatusBadRequest, protocol.ErrorCodeInvalidRequest, "Command is required")
		return
	}

	session, err := s.sessionManager.CreateSession(req.Command, req.Args)
	if err != nil {
		s.logger.Error("Failed to create session", "command", req.Command, "error", err.Error())
		s.writeError(w, http.StatusInternalServerError, errors.GetCode(err), err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": session.ID,
		"status":     string(session.Status()),
		"command":    session.Command,
		"args":       session.Args,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	session, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	resp := map[string]interface{}{
		"session_id":     session.ID,
		"command":        session.runner.CommandString(),
		"status":         string(session.Status()),
		"is_running":     session.IsRunning(),
		"start_time":     session.StartTime,
		"uptime_seconds": time.Since(session.StartTime).Seconds(),
	}
	if pid := session.PID(); pid != 0 {
		resp["pid"] = pid
	}
	if exitCode := session.ExitCode(); exitCode != nil {
		resp["exit_code"] = *exitCode
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	session, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	lines := 0
	if v := r.URL.Query().Get("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, protocol.ErrorCodeInvalidRequest,
				fmt.Sprintf("Invalid lines parameter: %q", v))
			return
		}
		lines = n
	}

	recent := session.RecentLines(lines)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": session.ID,
		"count":      len(recent),
		"lines":      recent,
	})
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.sessionManager.InterruptSession(id)

	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":     "interrupted",
			"session_id": id,
		})
	case stderrors.Is(err, errors.ErrSessionNotFound):
		s.writeError(w, http.StatusNotFound, protocol.ErrorCodeSessionNotFound, "Session not found")
	case stderrors.Is(err, errors.ErrSessionClosed):
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "already_stopped",
			"message": "Process is not running",
		})
	default:
		s.writeError(w, http.StatusInternalServerError, errors.GetCode(err), err.Error())
	}
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	cleaned := s.sessionManager.CleanupSessions()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"cleaned": cleaned,
		"active":  s.sessionManager.ActiveCount(),
	})
}

// handleStream upgrades to WebSocket, replays buffered output, then
// forwards live frames until the session closes or the client leaves.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	session, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "session_id", session.ID, "error", err.Error())
		return
	}
	defer conn.Close()

	monitor := s.sessionManager.Monitor()
	monitor.StreamAttached()
	defer monitor.StreamDetached()

	ctx := logging.WithSessionID(r.Context(), session.ID)
	s.logger.InfoContext(ctx, "Stream attached", "remote", r.RemoteAddr)

	ch, history := session.Subscribe()
	defer session.Unsubscribe(ch)

	if err := s.writeFrame(conn, protocol.NewConnectedMessage(session.ID, session.runner.CommandString())); err != nil {
		return
	}
	for _, line := range history {
		if err := s.writeFrame(conn, replayFrame(session.ID, line)); err != nil {
			return
		}
	}

	// Reader goroutine: we never expect client frames, but reading is
	// required to notice a closed connection and to process pongs.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(15 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case msg, open := <-ch:
			if !open {
				deadline := time.Now().Add(s.cfg.WriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				s.logger.InfoContext(ctx, "Stream finished")
				return
			}
			if err := s.writeFrame(conn, msg); err != nil {
				return
			}

		case <-pingTicker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}

		case <-clientGone:
			s.logger.InfoContext(ctx, "Stream client disconnected")
			return
		}
	}
}

// replayFrame rebuilds an output frame from a buffered line, keeping
// its original timestamp.
func replayFrame(sessionID string, line buffer.Line) *protocol.OutputMessage {
	return &protocol.OutputMessage{
		BaseMessage: protocol.BaseMessage{Type: protocol.MessageTypeOutput, SessionID: sessionID},
		Content:     line.Content,
		Stream:      line.Stream,
		Timestamp:   line.Timestamp,
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, msg interface{}) error {
	data, err := protocol.SerializeMessage(msg)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// lookupSession resolves the {id} path value, writing a 404 on failure.
func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	id := r.PathValue("id")
	session, err := s.sessionManager.GetSession(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, protocol.ErrorCodeSessionNotFound, "Session not found")
		return nil, false
	}
	return session, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":      message,
		"error_code": code,
	})
}
