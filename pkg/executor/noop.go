package executor

import (
	"sync/atomic"
	"time"
)

// Noop is the do-nothing executor: every method succeeds trivially, and
// Schedule neither runs nor queues the task. Used when the host process
// needs an Executor-shaped object but no work should actually happen, e.g.
// a transport that is registered but administratively disabled.
type Noop struct {
	running atomic.Bool
}

// NewNoop constructs a Noop executor.
func NewNoop() *Noop {
	return &Noop{}
}

func (n *Noop) Start() error {
	n.running.Store(true)
	return nil
}

func (n *Noop) Shutdown(time.Duration) error {
	n.running.Store(false)
	return nil
}

func (n *Noop) TransportMode() TransportMode { return SynchronousMode }

// Schedule accepts the task and drops it: no execution, no queueing. The
// only observable behavior is the shutdown check.
func (n *Noop) Schedule(Task, ScheduleFlags, TaskName) error {
	if !n.running.Load() {
		return ErrShutdownInProgress
	}
	return nil
}

func (n *Noop) Stats() Stats {
	return Stats{Executor: "noop", ByTask: newByTaskStats()}
}
