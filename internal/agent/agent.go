// Package agent implements the simulated agent tasks.
//
// The agent executes one of three canned step sequences (count, analyze,
// process), writing a progress line per step and sleeping a configured
// delay between steps. Cancellation is cooperative: the run checks its
// context before every step and sub-step and stops the sequence at the
// first checkpoint that observes cancellation. Sleeps are never aborted,
// so at most one in-flight sleep completes after a termination request.
package agent

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/agentsim/agentsim/internal/errors"
)

// Result describes the outcome of a run.
type Result struct {
	// Task is the name of the executed task.
	Task string
	// Interrupted is true when cancellation was requested before the
	// sequence finished. The caller decides the exit code from it.
	Interrupted bool
}

// Run executes the named task, writing progress lines to out. It returns
// an error only for invalid input; a graceful interruption is reported
// through Result.Interrupted, not as an error.
func Run(ctx context.Context, task string, delay time.Duration, out io.Writer) (Result, error) {
	if delay < 0 {
		return Result{}, errors.ErrNegativeDelay
	}

	fn, ok := tasks[task]
	if !ok {
		return Result{}, errors.ErrUnknownTask
	}

	r := &runner{ctx: ctx, out: out, delay: delay}
	fn(r)

	return Result{Task: task, Interrupted: r.interrupted()}, nil
}

// TaskNames returns the names of all known tasks.
func TaskNames() []string {
	return []string{"count", "analyze", "process"}
}

// runner carries the state shared by one task execution.
type runner struct {
	ctx   context.Context
	out   io.Writer
	delay time.Duration
}

// interrupted is the cancellation checkpoint. It never blocks.
func (r *runner) interrupted() bool {
	select {
	case <-r.ctx.Done():
		return true
	default:
		return false
	}
}

// sleep pauses for the configured delay scaled by factor. The sleep is
// deliberately not tied to the context: an in-flight sleep completes and
// cancellation is observed at the next checkpoint.
func (r *runner) sleep(factor float64) {
	if r.delay <= 0 {
		return
	}
	time.Sleep(time.Duration(float64(r.delay) * factor))
}

func (r *runner) printf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, format, args...)
}

func (r *runner) println(line string) {
	fmt.Fprintln(r.out, line)
}
