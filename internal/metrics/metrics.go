// Package metrics provides lightweight operational metrics for agentsim.
//
// The monitor counts sessions by outcome, tracks stream attachments, and
// times named operations. Everything is in-memory and surfaced through
// structured logging; there is no external metrics backend.
package metrics

import (
	"log/slog"
	"sync"
	"time"
)

// Monitor collects counters and operation timings.
type Monitor struct {
	logger *slog.Logger
	mu     sync.RWMutex

	operations map[string]*OperationMetrics
	sessions   SessionMetrics
	streams    StreamMetrics
}

// OperationMetrics tracks timing for one named operation.
type OperationMetrics struct {
	Name          string        `json:"name"`
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	MinDuration   time.Duration `json:"min_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
	Errors        int64         `json:"errors"`
}

// AverageDuration returns the mean duration across recorded runs.
func (om *OperationMetrics) AverageDuration() time.Duration {
	if om.Count == 0 {
		return 0
	}
	return om.TotalDuration / time.Duration(om.Count)
}

// SessionMetrics counts sessions by outcome.
type SessionMetrics struct {
	Started     int64 `json:"started"`
	Completed   int64 `json:"completed"`
	Interrupted int64 `json:"interrupted"`
	Failed      int64 `json:"failed"`
}

// StreamMetrics counts stream attachments.
type StreamMetrics struct {
	Attached int64 `json:"attached"`
	Detached int64 `json:"detached"`
	Active   int64 `json:"active"`
}

// NewMonitor creates a monitor that logs through the default slog logger.
func NewMonitor() *Monitor {
	return &Monitor{
		logger:     slog.Default(),
		operations: make(map[string]*OperationMetrics),
	}
}

// SetLogger replaces the monitor's logger.
func (m *Monitor) SetLogger(logger *slog.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

// TrackOperation runs fn and records its duration and outcome under the
// given operation name.
func (m *Monitor) TrackOperation(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	m.recordOperation(operation, time.Since(start), err == nil)
	return err
}

func (m *Monitor) recordOperation(name string, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	om, ok := m.operations[name]
	if !ok {
		om = &OperationMetrics{Name: name, MinDuration: duration, MaxDuration: duration}
		m.operations[name] = om
	}

	om.Count++
	om.TotalDuration += duration
	if duration < om.MinDuration {
		om.MinDuration = duration
	}
	if duration > om.MaxDuration {
		om.MaxDuration = duration
	}
	if !success {
		om.Errors++
	}
}

// SessionStarted records a newly started session.
func (m *Monitor) SessionStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions.Started++
}

// SessionFinished records a finished session by outcome.
func (m *Monitor) SessionFinished(interrupted bool, exitCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case exitCode == 0:
		m.sessions.Completed++
	case interrupted:
		m.sessions.Interrupted++
	default:
		m.sessions.Failed++
	}
}

// StreamAttached records a client attaching to a session stream.
func (m *Monitor) StreamAttached() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams.Attached++
	m.streams.Active++
}

// StreamDetached records a client detaching from a session stream.
func (m *Monitor) StreamDetached() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams.Detached++
	if m.streams.Active > 0 {
		m.streams.Active--
	}
}

// GetSessionMetrics returns a snapshot of session counters.
func (m *Monitor) GetSessionMetrics() SessionMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions
}

// GetStreamMetrics returns a snapshot of stream counters.
func (m *Monitor) GetStreamMetrics() StreamMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streams
}

// GetOperationMetrics returns a snapshot for one operation, or nil.
func (m *Monitor) GetOperationMetrics(operation string) *OperationMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	om, ok := m.operations[operation]
	if !ok {
		return nil
	}
	snapshot := *om
	return &snapshot
}

// LogSummary writes the current counters through the monitor's logger.
func (m *Monitor) LogSummary() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	m.logger.Info("Metrics summary",
		slog.Int64("sessions_started", m.sessions.Started),
		slog.Int64("sessions_completed", m.sessions.Completed),
		slog.Int64("sessions_interrupted", m.sessions.Interrupted),
		slog.Int64("sessions_failed", m.sessions.Failed),
		slog.Int64("streams_active", m.streams.Active),
	)

	for name, om := range m.operations {
		m.logger.Debug("Operation metrics",
			slog.String("operation", name),
			slog.Int64("count", om.Count),
			slog.Duration("avg_duration", om.AverageDuration()),
			slog.Int64("errors", om.Errors),
		)
	}
}

// Reset clears all counters. Intended for tests.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations = make(map[string]*OperationMetrics)
	m.sessions = SessionMetrics{}
	m.streams = StreamMetrics{}
}
