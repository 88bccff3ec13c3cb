// Package buffer provides a bounded in-memory buffer of recent process
// output lines. Each session keeps one buffer so late-attaching clients
// and the logs endpoint can read recent output without any persistence.
package buffer

import (
	"sync"
	"time"

	"github.com/agentsim/agentsim/internal/protocol"
)

// Line is one buffered output line.
type Line struct {
	Content   string              `json:"content"`
	Stream    protocol.StreamType `json:"stream"`
	Timestamp time.Time           `json:"timestamp"`
}

// NewLine creates a buffered line from an output message.
func NewLine(msg *protocol.OutputMessage) Line {
	return Line{
		Content:   msg.Content,
		Stream:    msg.Stream,
		Timestamp: msg.Timestamp,
	}
}

// DefaultCapacity is the per-session line capacity used when none is
// configured.
const DefaultCapacity = 1000

// RingBuffer holds up to capacity lines, evicting the oldest on overflow.
type RingBuffer struct {
	mu       sync.RWMutex
	lines    []Line
	capacity int
	start    int
	count    int
	total    int64
}

// NewRingBuffer creates a ring buffer with the given line capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RingBuffer{
		lines:    make([]Line, capacity),
		capacity: capacity,
	}
}

// Append adds a line, evicting the oldest when the buffer is full.
func (rb *RingBuffer) Append(line Line) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	idx := (rb.start + rb.count) % rb.capacity
	rb.lines[idx] = line

	if rb.count < rb.capacity {
		rb.count++
	} else {
		rb.start = (rb.start + 1) % rb.capacity
	}
	rb.total++
}

// Recent returns up to n of the most recent lines, oldest first. n <= 0
// returns everything buffered.
func (rb *RingBuffer) Recent(n int) []Line {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || n > rb.count {
		n = rb.count
	}

	out := make([]Line, 0, n)
	first := rb.count - n
	for i := first; i < rb.count; i++ {
		out = append(out, rb.lines[(rb.start+i)%rb.capacity])
	}
	return out
}

// Len returns the number of lines currently buffered.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Total returns the number of lines ever appended, including evicted ones.
func (rb *RingBuffer) Total() int64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.total
}

// Capacity returns the configured line capacity.
func (rb *RingBuffer) Capacity() int {
	return rb.capacity
}

// Clear drops all buffered lines.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.start = 0
	rb.count = 0
}
