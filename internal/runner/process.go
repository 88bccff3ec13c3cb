// Package runner provides process execution for agentsim sessions.
//
// A ProcessRunner spawns one command, captures its stdout and stderr
// line-wise, and supports a cooperative interrupt (SIGINT) followed by
// an escalating stop (SIGTERM, then SIGKILL after a grace period). It
// has no restart policy: a session runs its command exactly once.
//
// Example usage:
//
//	r := runner.NewProcessRunner("sess-1", "agentsim", []string{"run", "--task", "count"}, 10*time.Second)
//	r.OnLine = func(content string, stream protocol.StreamType) { ... }
//	r.OnExit = func(exitCode int) { ... }
//
//	if err := r.Start(); err != nil {
//		return err
//	}
//	r.Wait()
package runner

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/agentsim/agentsim/internal/errors"
	"github.com/agentsim/agentsim/internal/protocol"
)

// ProcessRunner manages one session process.
type ProcessRunner struct {
	sessionID string
	command   string
	args      []string

	cmd      *exec.Cmd
	process  *os.Process
	pid      int
	running  bool
	exitCode *int
	// interruptRequested records that a graceful stop was asked for, so
	// the resulting nonzero exit is classified as interrupted rather
	// than failed.
	interruptRequested bool
	mutex              sync.RWMutex

	stdout io.ReadCloser
	stderr io.ReadCloser

	done   chan struct{}
	wg     sync.WaitGroup
	scanWg sync.WaitGroup

	stopGracePeriod time.Duration

	// Callbacks
	OnLine  func(content string, stream protocol.StreamType)
	OnExit  func(exitCode int)
	OnError func(error)
}

// DefaultStopGracePeriod is used when no grace period is configured.
const DefaultStopGracePeriod = 10 * time.Second

// NewProcessRunner creates a runner for the given command.
func NewProcessRunner(sessionID, command string, args []string, stopGracePeriod time.Duration) *ProcessRunner {
	if stopGracePeriod <= 0 {
		stopGracePeriod = DefaultStopGracePeriod
	}
	return &ProcessRunner{
		sessionID:       sessionID,
		command:         command,
		args:            args,
		done:            make(chan struct{}),
		stopGracePeriod: stopGracePeriod,
	}
}

// Start spawns the process and begins capturing its output.
func (pr *ProcessRunner) Start() error {
	pr.mutex.Lock()
	defer pr.mutex.Unlock()

	if pr.running {
		return errors.ProcessError("ALREADY_RUNNING", "Process already running", nil)
	}

	pr.cmd = exec.Command(pr.command, pr.args...)
	pr.cmd.Env = os.Environ()

	stdout, err := pr.cmd.StdoutPipe()
	if err != nil {
		return errors.ProcessError("PIPE_CREATION_FAILED", "Failed to create stdout pipe", err)
	}
	pr.stdout = stdout

	stderr, err := pr.cmd.StderrPipe()
	if err != nil {
		return errors.ProcessError("PIPE_CREATION_FAILED", "Failed to create stderr pipe", err)
	}
	pr.stderr = stderr

	if err := pr.cmd.Start(); err != nil {
		return errors.ProcessError("PROCESS_START_FAILED", "Failed to start process", err)
	}

	pr.process = pr.cmd.Process
	pr.pid = pr.cmd.Process.Pid
	pr.running = true
	pr.exitCode = nil

	pr.wg.Add(3)
	pr.scanWg.Add(2)
	go pr.scanStream(pr.stdout, protocol.StreamStdout)
	go pr.scanStream(pr.stderr, protocol.StreamStderr)
	go pr.waitProcess()

	return nil
}

// scanStream reads one pipe line-wise and forwards lines to OnLine.
// The scanner terminates when the process exits and the pipe closes.
func (pr *ProcessRunner) scanStream(pipe io.ReadCloser, stream protocol.StreamType) {
	defer pr.wg.Done()
	defer pr.scanWg.Done()

	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)

	for scanner.Scan() {
		if pr.OnLine != nil {
			pr.OnLine(scanner.Text(), stream)
		}
	}

	if err := scanner.Err(); err != nil && err != io.EOF {
		if pr.OnError != nil {
			pr.OnError(fmt.Errorf("%s read error: %w", stream, err))
		}
	}
}

// waitProcess waits for the command and records the exit code. Wait is
// only called after both scanners hit EOF, so no tail output is lost
// when Wait closes the pipes.
func (pr *ProcessRunner) waitProcess() {
	defer pr.wg.Done()
	defer close(pr.done)

	pr.scanWg.Wait()
	err := pr.cmd.Wait()

	exitCode := 0
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			exitCode = exitError.ExitCode()
		} else {
			exitCode = 1
			if pr.OnError != nil {
				pr.OnError(errors.ProcessError("PROCESS_WAIT_FAILED", "Failed waiting for process", err))
			}
		}
	}

	pr.mutex.Lock()
	pr.running = false
	pr.exitCode = &exitCode
	pr.mutex.Unlock()

	if pr.OnExit != nil {
		pr.OnExit(exitCode)
	}
}

// Interrupt requests a graceful stop by sending SIGINT. The process is
// expected to observe it at its next checkpoint and exit on its own.
func (pr *ProcessRunner) Interrupt() error {
	pr.mutex.Lock()
	process := pr.process
	running := pr.running
	pr.interruptRequested = true
	pr.mutex.Unlock()

	if !running || process == nil {
		return errors.ErrSessionClosed
	}

	return process.Signal(syscall.SIGINT)
}

// Stop stops the process, escalating from SIGTERM to SIGKILL after the
// grace period.
func (pr *ProcessRunner) Stop() error {
	pr.mutex.Lock()
	process := pr.process
	running := pr.running
	pr.interruptRequested = true
	pr.mutex.Unlock()

	if !running || process == nil {
		return nil // Already stopped
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return process.Kill()
	}

	select {
	case <-pr.done:
		return nil
	case <-time.After(pr.stopGracePeriod):
		return process.Kill()
	}
}

// Wait blocks until the process has exited and all output is drained.
func (pr *ProcessRunner) Wait() {
	pr.wg.Wait()
}

// Done returns a channel closed when the process has exited.
func (pr *ProcessRunner) Done() <-chan struct{} {
	return pr.done
}

// IsRunning returns true if the process is currently running.
func (pr *ProcessRunner) IsRunning() bool {
	pr.mutex.RLock()
	defer pr.mutex.RUnlock()
	return pr.running
}

// PID returns the process ID, or 0 before Start.
func (pr *ProcessRunner) PID() int {
	pr.mutex.RLock()
	defer pr.mutex.RUnlock()
	return pr.pid
}

// ExitCode returns the exit code once the process has exited.
func (pr *ProcessRunner) ExitCode() *int {
	pr.mutex.RLock()
	defer pr.mutex.RUnlock()
	return pr.exitCode
}

// InterruptRequested reports whether a graceful stop was requested.
func (pr *ProcessRunner) InterruptRequested() bool {
	pr.mutex.RLock()
	defer pr.mutex.RUnlock()
	return pr.interruptRequested
}

// FinalStatus maps the exit outcome onto a session status.
func (pr *ProcessRunner) FinalStatus() protocol.SessionStatus {
	pr.mutex.RLock()
	defer pr.mutex.RUnlock()

	if pr.exitCode == nil {
		return protocol.StatusRunning
	}
	switch {
	case *pr.exitCode == 0:
		return protocol.StatusStopped
	case pr.interruptRequested:
		return protocol.StatusInterrupted
	default:
		return protocol.StatusFailed
	}
}

// CommandString returns the full command for logging.
func (pr *ProcessRunner) CommandString() string {
	if len(pr.args) == 0 {
		return pr.command
	}
	return pr.command + " " + strings.Join(pr.args, " ")
}
