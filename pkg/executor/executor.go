// Package executor implements the task-scheduling cores: a Synchronous
// executor (one goroutine per session) and an Adaptive executor (a
// dynamically sized worker pool driving shared reactors), plus a Noop stub.
package executor

import (
	"errors"
	"time"
)

// Errors surfaced by Schedule/Shutdown; call sites branch on them with
// errors.Is.
var (
	// ErrShutdownInProgress is returned by Schedule once the executor has
	// begun (or completed) shutdown; the caller must abandon the task.
	ErrShutdownInProgress = errors.New("executor: shutdown in progress")
	// ErrExceededTimeLimit is returned by Shutdown when worker goroutines
	// did not drain within the requested timeout.
	ErrExceededTimeLimit = errors.New("executor: shutdown exceeded time limit")
)

// ScheduleFlags is a bitmask describing how a scheduled task may be run.
type ScheduleFlags uint32

const (
	// None carries no special scheduling permission: the task is always
	// enqueued for later execution, never run inline.
	None ScheduleFlags = 0
	// MayRecurse permits the executor to invoke the task inline on the
	// calling worker goroutine if recursion-depth limits allow it.
	MayRecurse ScheduleFlags = 1 << iota
	// MayYieldBeforeSchedule hints the executor to yield the OS thread
	// before scheduling, to let other runnable goroutines make progress
	// when the pool is oversubscribed relative to hardware concurrency.
	MayYieldBeforeSchedule
	// Deferred marks a background task that should not influence
	// starvation detection (it does not count toward the controller's
	// latency bound).
	Deferred
)

// Has reports whether all bits in other are set in f.
func (f ScheduleFlags) Has(other ScheduleFlags) bool { return f&other == other }

// Set returns f with other's bits added.
func (f ScheduleFlags) Set(other ScheduleFlags) ScheduleFlags { return f | other }

// Union returns the bitwise union of fs.
func Union(fs ...ScheduleFlags) ScheduleFlags {
	var out ScheduleFlags
	for _, f := range fs {
		out |= f
	}
	return out
}

// TaskName labels a scheduled task for per-task-name stats breakdowns.
type TaskName int

const (
	SourceMessage TaskName = iota
	ProcessMessage
	ExhaustMessage
	StartSession
	maxTaskName
)

func (t TaskName) String() string {
	switch t {
	case SourceMessage:
		return "sourceMessage"
	case ProcessMessage:
		return "processMessage"
	case ExhaustMessage:
		return "exhaustMessage"
	case StartSession:
		return "startSession"
	default:
		return "unknown"
	}
}

// TransportMode reports how an executor expects to be driven.
type TransportMode int

const (
	// Synchronous means one thread per session; no reactor is shared.
	SynchronousMode TransportMode = iota
	// Asynchronous means tasks are scheduled onto shared reactors.
	AsynchronousMode
)

// Task is a unit of work submitted to an executor.
type Task func()

// Executor is the common interface implemented by Synchronous, Adaptive,
// and Noop.
type Executor interface {
	// Start begins accepting Schedule calls and, for pool-based
	// executors, launches the controller/minimum worker set.
	Start() error
	// Shutdown stops accepting new work and waits up to timeout for
	// in-flight work to drain. Returns ErrExceededTimeLimit if it
	// doesn't.
	Shutdown(timeout time.Duration) error
	// Schedule submits task for execution honoring flags. Returns
	// ErrShutdownInProgress if the executor is no longer running.
	Schedule(task Task, flags ScheduleFlags, name TaskName) error
	// TransportMode reports the scheduling mode this executor presents
	// to callers (used by the session state machine to decide whether
	// SSM ownership is Owned or Static).
	TransportMode() TransportMode
	// Stats returns a point-in-time snapshot of the executor's metrics
	// surface, matching the JSON shape exposed over the admin surface.
	Stats() Stats
}

// Stats is the executor's metrics snapshot. Field names and nesting match
// the stats surface documented for the admin HTTP/JSON endpoint.
type Stats struct {
	Executor                 string               `json:"executor"`
	ThreadsRunning           int                  `json:"threadsRunning"`
	ThreadsInUse             int                  `json:"threadsInUse"`
	ThreadsPending           int                  `json:"threadsPending"`
	TasksQueued              int                  `json:"tasksQueued"`
	DeferredTasksQueued      int                  `json:"deferredTasksQueued"`
	TotalQueued              int64                `json:"totalQueued"`
	TotalExecuted            int64                `json:"totalExecuted"`
	TotalTimeExecutingMicros int64                `json:"totalTimeExecutingMicros"`
	TotalTimeQueuedMicros    int64                `json:"totalTimeQueuedMicros"`
	ThreadsStartedBy         ThreadsStartedBy     `json:"threadsStartedBy"`
	ByTask                   map[string]TaskStats `json:"byTask"`
}

// ThreadsStartedBy breaks down worker spawns by the reason the controller
// created them.
type ThreadsStartedBy struct {
	StuckDetection int64 `json:"stuckDetection"`
	Starvation     int64 `json:"starvation"`
	ReserveMinimum int64 `json:"reserveMinimum"`
}

// TaskStats is one task name's slice of the metrics surface.
type TaskStats struct {
	TotalQueued              int64 `json:"totalQueued"`
	TotalExecuted            int64 `json:"totalExecuted"`
	TotalTimeExecutingMicros int64 `json:"totalTimeExecutingMicros"`
	TotalTimeQueuedMicros    int64 `json:"totalTimeQueuedMicros"`
}

func newByTaskStats() map[string]TaskStats {
	m := make(map[string]TaskStats, int(maxTaskName))
	for i := TaskName(0); i < maxTaskName; i++ {
		m[i.String()] = TaskStats{}
	}
	return m
}
