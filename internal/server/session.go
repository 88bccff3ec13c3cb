// Package server implements the agentsim session server: it starts
// agent processes on request, buffers and fans out their output, and
// exposes status, interrupt, and streaming endpoints.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentsim/agentsim/internal/buffer"
	"github.com/agentsim/agentsim/internal/config"
	"github.com/agentsim/agentsim/internal/errors"
	"github.com/agentsim/agentsim/internal/logging"
	"github.com/agentsim/agentsim/internal/metrics"
	"github.com/agentsim/agentsim/internal/protocol"
	"github.com/agentsim/agentsim/internal/runner"
)

// subscriberBufferSize is the per-subscriber message queue. A subscriber
// that falls this far behind starts losing frames rather than blocking
// the session.
const subscriberBufferSize = 256

// Session is one supervised agent process.
type Session struct {
	ID        string
	Command   string
	Args      []string
	StartTime time.Time

	status   protocol.SessionStatus
	endTime  *time.Time
	exitCode *int
	mu       sync.RWMutex

	runner *runner.ProcessRunner
	buffer *buffer.RingBuffer

	subscribers map[chan interface{}]struct{}
	subMu       sync.Mutex
	closed      bool
}

// Status returns the current lifecycle status.
func (s *Session) Status() protocol.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// ExitCode returns the exit code once the process has finished.
func (s *Session) ExitCode() *int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exitCode
}

// EndTime returns when the process finished, or nil while running.
func (s *Session) EndTime() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endTime
}

// PID returns the process ID of the session's process.
func (s *Session) PID() int {
	return s.runner.PID()
}

// IsRunning reports whether the session process is still running.
func (s *Session) IsRunning() bool {
	return s.Status() == protocol.StatusRunning
}

// RecentLines returns up to n recent output lines, oldest first.
func (s *Session) RecentLines(n int) []buffer.Line {
	return s.buffer.Recent(n)
}

// Subscribe attaches a stream subscriber. It returns the channel live
// frames arrive on and the buffered history to replay first. The caller
// must call Unsubscribe when done.
func (s *Session) Subscribe() (<-chan interface{}, []buffer.Line) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	history := s.buffer.Recent(0)

	ch := make(chan interface{}, subscriberBufferSize)
	if s.closed {
		// Session already finished: the subscriber gets history plus an
		// immediate closed frame.
		ch <- protocol.NewClosedMessage(s.ID)
		close(ch)
		return ch, history
	}

	s.subscribers[ch] = struct{}{}
	return ch, history
}

// Unsubscribe detaches a previously subscribed channel.
func (s *Session) Unsubscribe(ch <-chan interface{}) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for sub := range s.subscribers {
		if sub == ch {
			delete(s.subscribers, sub)
			close(sub)
			return
		}
	}
}

// emitOutput appends a line to the buffer and fans it out under one
// lock, so a subscriber attaching concurrently sees every line exactly
// once: either in the replayed history or on the live channel.
func (s *Session) emitOutput(msg *protocol.OutputMessage) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.buffer.Append(buffer.NewLine(msg))

	if s.closed {
		return
	}
	for sub := range s.subscribers {
		select {
		case sub <- msg:
		default:
		}
	}
}

// broadcast fans a frame out to all subscribers. Slow subscribers lose
// frames instead of stalling the process output pump.
func (s *Session) broadcast(msg interface{}) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if s.closed {
		return
	}
	for sub := range s.subscribers {
		select {
		case sub <- msg:
		default:
		}
	}
}

// closeSubscribers sends the terminal frame and closes all subscriber
// channels.
func (s *Session) closeSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	closed := protocol.NewClosedMessage(s.ID)
	for sub := range s.subscribers {
		select {
		case sub <- closed:
		default:
		}
		close(sub)
	}
	s.subscribers = make(map[chan interface{}]struct{})
}

// SessionManager owns all sessions.
type SessionManager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	cfg     config.ServerConfig
	logger  *logging.Logger
	monitor *metrics.Monitor
}

// NewSessionManager creates a session manager.
func NewSessionManager(cfg config.ServerConfig, logger *logging.Logger, monitor *metrics.Monitor) *SessionManager {
	if logger == nil {
		logger = logging.Default()
	}
	if monitor == nil {
		monitor = metrics.NewMonitor()
	}
	return &SessionManager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		logger:   logger,
		monitor:  monitor,
	}
}

// CreateSession starts a process and registers a session for it.
func (sm *SessionManager) CreateSession(command string, args []string) (*Session, error) {
	if command == "" {
		return nil, errors.ValidationError(protocol.ErrorCodeInvalidRequest, "Command is required", nil)
	}

	session := &Session{
		ID:          uuid.New().String(),
		Command:     command,
		Args:        args,
		StartTime:   time.Now(),
		status:      protocol.StatusRunning,
		buffer:      buffer.NewRingBuffer(sm.cfg.BufferLines),
		subscribers: make(map[chan interface{}]struct{}),
	}

	pr := runner.NewProcessRunner(session.ID, command, args, sm.cfg.StopGracePeriod)
	session.runner = pr

	pr.OnLine = func(content string, stream protocol.StreamType) {
		session.emitOutput(protocol.NewOutputMessage(session.ID, content, stream))
	}

	pr.OnExit = func(exitCode int) {
		now := time.Now()
		status := pr.FinalStatus()

		session.mu.Lock()
		session.status = status
		session.exitCode = &exitCode
		session.endTime = &now
		session.mu.Unlock()

		pid := pr.PID()
		session.broadcast(protocol.NewStatusMessage(session.ID, status, &pid, &exitCode))
		session.closeSubscribers()

		sm.monitor.SessionFinished(pr.InterruptRequested(), exitCode)
		sm.logger.Info("Session finished",
			"session_id", session.ID,
			"status", string(status),
			"exit_code", exitCode)
	}

	pr.OnError = func(err error) {
		ctx := logging.WithSessionID(context.Background(), session.ID)
		sm.logger.LogError(ctx, "Session process error", err)
		session.broadcast(protocol.NewErrorMessage(session.ID, errors.GetCode(err), err.Error()))
	}

	err := sm.monitor.TrackOperation("start_session", pr.Start)
	if err != nil {
		return nil, errors.WrapError(err, "failed to start session process")
	}

	sm.mu.Lock()
	sm.sessions[session.ID] = session
	sm.mu.Unlock()

	sm.monitor.SessionStarted()
	sm.logger.Info("Session started",
		"session_id", session.ID,
		"command", pr.CommandString(),
		"pid", pr.PID())

	return session, nil
}

// GetSession looks a session up by ID.
func (sm *SessionManager) GetSession(id string) (*Session, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, ok := sm.sessions[id]
	if !ok {
		return nil, errors.ErrSessionNotFound
	}
	return session, nil
}

// ListSessions returns all registered sessions.
func (sm *SessionManager) ListSessions() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sessions := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// InterruptSession requests a graceful stop of the session process.
func (sm *SessionManager) InterruptSession(id string) error {
	session, err := sm.GetSession(id)
	if err != nil {
		return err
	}

	if !session.IsRunning() {
		return errors.ErrSessionClosed
	}

	sm.logger.Info("Interrupting session", "session_id", id)
	return session.runner.Interrupt()
}

// CleanupSessions drops finished sessions older than the configured max
// age and returns how many were removed.
func (sm *SessionManager) CleanupSessions() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cleaned := 0
	for id, session := range sm.sessions {
		if session.IsRunning() {
			continue
		}
		end := session.EndTime()
		if end != nil && time.Since(*end) > sm.cfg.SessionMaxAge {
			delete(sm.sessions, id)
			cleaned++
		}
	}

	if cleaned > 0 {
		sm.logger.Info("Cleaned up sessions", "cleaned", cleaned, "active", len(sm.sessions))
	}
	return cleaned
}

// ActiveCount returns the number of registered sessions.
func (sm *SessionManager) ActiveCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// Monitor returns the manager's metrics monitor.
func (sm *SessionManager) Monitor() *metrics.Monitor {
	return sm.monitor
}

// Close stops all running sessions and waits for them to finish.
func (sm *SessionManager) Close() error {
	sm.mu.RLock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.mu.RUnlock()

	for _, session := range sessions {
		if session.IsRunning() {
			_ = session.runner.Stop()
		}
		session.runner.Wait()
	}
	return nil
}
