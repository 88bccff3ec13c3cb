package runner

import (
	"sync"
	"testing"
	"time"

	"github.com/agentsim/agentsim/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lineCollector records OnLine callbacks, which arrive from the stdout
// and stderr scanner goroutines concurrently.
type lineCollector struct {
	mu    sync.Mutex
	lines map[protocol.StreamType][]string
}

func newLineCollector() *lineCollector {
	return &lineCollector{lines: make(map[protocol.StreamType][]string)}
}

func (lc *lineCollector) collect(content string, stream protocol.StreamType) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.lines[stream] = append(lc.lines[stream], content)
}

func (lc *lineCollector) get(stream protocol.StreamType) []string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return append([]string(nil), lc.lines[stream]...)
}

func waitDone(t *testing.T, pr *ProcessRunner) {
	t.Helper()
	select {
	case <-pr.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit in time")
	}
	pr.Wait()
}

func TestProcessRunner_CapturesStdout(t *testing.T) {
	pr := NewProcessRunner("sess-1", "sh", []string{"-c", "echo one; echo two"}, time.Second)
	lc := newLineCollector()
	pr.OnLine = lc.collect

	require.NoError(t, pr.Start())
	waitDone(t, pr)

	assert.Equal(t, []string{"one", "two"}, lc.get(protocol.StreamStdout))
	require.NotNil(t, pr.ExitCode())
	assert.Equal(t, 0, *pr.ExitCode())
	assert.Equal(t, protocol.StatusStopped, pr.FinalStatus())
	assert.False(t, pr.IsRunning())
}

func TestProcessRunner_CapturesStderr(t *testing.T) {
	pr := NewProcessRunner("sess-1", "sh", []string{"-c", "echo oops 1>&2"}, time.Second)
	lc := newLineCollector()
	pr.OnLine = lc.collect

	require.NoError(t, pr.Start())
	waitDone(t, pr)

	assert.Equal(t, []string{"oops"}, lc.get(protocol.StreamStderr))
}

func TestProcessRunner_NonzeroExit(t *testing.T) {
	pr := NewProcessRunner("sess-1", "sh", []string{"-c", "exit 3"}, time.Second)

	exitCodes := make(chan int, 1)
	pr.OnExit = func(code int) { exitCodes <- code }

	require.NoError(t, pr.Start())
	waitDone(t, pr)

	require.NotNil(t, pr.ExitCode())
	assert.Equal(t, 3, *pr.ExitCode())
	assert.Equal(t, 3, <-exitCodes)
	assert.Equal(t, protocol.StatusFailed, pr.FinalStatus())
}

func TestProcessRunner_Interrupt(t *testing.T) {
	script := `trap 'exit 1' INT TERM; while true; do sleep 0.1; done`
	pr := NewProcessRunner("sess-1", "sh", []string{"-c", script}, time.Second)

	require.NoError(t, pr.Start())
	assert.True(t, pr.IsRunning())
	assert.Greater(t, pr.PID(), 0)

	// Give the shell a moment to install the trap.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, pr.Interrupt())

	waitDone(t, pr)

	assert.True(t, pr.InterruptRequested())
	require.NotNil(t, pr.ExitCode())
	assert.Equal(t, 1, *pr.ExitCode())
	assert.Equal(t, protocol.StatusInterrupted, pr.FinalStatus())
}

func TestProcessRunner_StopEscalates(t *testing.T) {
	// The process ignores SIGTERM; Stop must SIGKILL it after the grace
	// period.
	script := `trap '' TERM; while true; do sleep 0.1; done`
	pr := NewProcessRunner("sess-1", "sh", []string{"-c", script}, 300*time.Millisecond)

	require.NoError(t, pr.Start())
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, pr.Stop())
	waitDone(t, pr)

	assert.False(t, pr.IsRunning())
	assert.Equal(t, protocol.StatusInterrupted, pr.FinalStatus())
}

func TestProcessRunner_StartTwice(t *testing.T) {
	pr := NewProcessRunner("sess-1", "sh", []string{"-c", "sleep 1"}, time.Second)
	require.NoError(t, pr.Start())
	defer func() {
		_ = pr.Stop()
		waitDone(t, pr)
	}()

	err := pr.Start()
	assert.Error(t, err)
}

func TestProcessRunner_CommandNotFound(t *testing.T) {
	pr := NewProcessRunner("sess-1", "definitely-not-a-command-xyz", nil, time.Second)
	err := pr.Start()
	assert.Error(t, err)
	assert.False(t, pr.IsRunning())
}

func TestProcessRunner_InterruptBeforeStart(t *testing.T) {
	pr := NewProcessRunner("sess-1", "sh", []string{"-c", "true"}, time.Second)
	assert.Error(t, pr.Interrupt())
}

func TestProcessRunner_CommandString(t *testing.T) {
	pr := NewProcessRunner("sess-1", "agentsim", []string{"run", "--task", "count"}, time.Second)
	assert.Equal(t, "agentsim run --task count", pr.CommandString())

	bare := NewProcessRunner("sess-2", "true", nil, time.Second)
	assert.Equal(t, "true", bare.CommandString())
}
