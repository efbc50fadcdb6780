package ticks

import (
	"sync"
	"time"
)

// TickTimer captures a monotonic instant at construction and reports elapsed
// time since then. It is reset-able so a single allocation can be reused
// across many measurement windows (the executor resets one per worker
// run-loop iteration).
type TickTimer struct {
	start atomic64
}

// atomic64 is the generic Word specialized to int64. The field it backs is
// read and written through Reset/SinceStart, which need to be safe to call
// cross-goroutine (stats collection).
type atomic64 = Word[int64]

// NewTickTimer starts a timer ticking now.
func NewTickTimer() *TickTimer {
	t := &TickTimer{}
	t.start.Store(time.Now().UnixNano())
	return t
}

// SinceStart returns elapsed time since the timer was started or last Reset.
func (t *TickTimer) SinceStart() time.Duration {
	return time.Duration(time.Now().UnixNano() - t.start.Load())
}

// Reset restarts the timer at the current instant.
func (t *TickTimer) Reset() {
	t.start.Store(time.Now().UnixNano())
}

// CumulativeTickTimer accumulates total running time across start/stop
// cycles. markStopped must be preceded by markRunning; concurrent calls to
// Total must observe any in-flight slice, which is why the running flag and
// accumulator are read together under mutex rather than as independent
// atomics.
type CumulativeTickTimer struct {
	mu          sync.Mutex
	timer       TickTimer
	accumulated time.Duration
	running     bool
}

// NewCumulativeTickTimer returns a stopped cumulative timer.
func NewCumulativeTickTimer() *CumulativeTickTimer {
	return &CumulativeTickTimer{}
}

// MarkRunning starts (or resumes) the current slice. Panics if already
// running — this is a programmer invariant, not a runtime condition.
func (c *CumulativeTickTimer) MarkRunning() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		panic("ticks: MarkRunning called while already running")
	}
	c.timer.Reset()
	c.running = true
}

// MarkStopped ends the current slice, folding its duration into the
// accumulator, and returns the duration of the slice that just ended.
func (c *CumulativeTickTimer) MarkStopped() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		panic("ticks: MarkStopped called while not running")
	}
	c.running = false
	d := c.timer.SinceStart()
	c.accumulated += d
	return d
}

// Total returns the accumulated time plus, if a slice is currently open,
// the time elapsed in that slice so far.
func (c *CumulativeTickTimer) Total() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return c.accumulated
	}
	return c.accumulated + c.timer.SinceStart()
}

// Accumulated returns only the closed slices' total, excluding any slice
// still open. Unlike Total, this value does not advance while a slice sits
// open, which is what the executor's stuck detector needs: a worker blocked
// inside a task holds its slice open indefinitely, so its Accumulated stays
// frozen even as wall time passes.
func (c *CumulativeTickTimer) Accumulated() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accumulated
}
