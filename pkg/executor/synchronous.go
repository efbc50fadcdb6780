package executor

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/noisefs-labs/execcore/pkg/ticks"
)

// SynchronousOptions configures a Synchronous executor.
type SynchronousOptions struct {
	// RecursionLimit bounds how deep MayRecurse tasks may nest inline
	// before further recursive schedules are queued instead.
	RecursionLimit int
}

// DefaultSynchronousOptions uses the same recursion limit the adaptive
// executor defaults to.
func DefaultSynchronousOptions() SynchronousOptions {
	return SynchronousOptions{RecursionLimit: 8}
}

// localWorkState is the per-worker-goroutine state: a FIFO of tasks queued
// by a re-entrant Schedule call on this same goroutine, the current
// recursion depth, and a counter used to throttle the "mark thread idle"
// allocator hook.
type queuedTask struct {
	task Task
	name TaskName
}

type localWorkState struct {
	queue          []queuedTask
	recursionDepth int
	idleCounter    int64
}

// Synchronous is a one-goroutine-per-session executor: the first Schedule
// call for a session spawns a worker goroutine that drains a local deque;
// every subsequent Schedule call from within that same goroutine either
// recurses inline or appends to the deque.
type Synchronous struct {
	opts SynchronousOptions

	running atomic.Bool

	numHardwareCores int
	threadsRunning   atomic.Int64

	shutdownMu   sync.Mutex
	shutdownCond *sync.Cond

	local *goroutineLocal[localWorkState]

	statsMu sync.Mutex
	stats   Stats
}

// NewSynchronous constructs a Synchronous executor with opts.
func NewSynchronous(opts SynchronousOptions) *Synchronous {
	s := &Synchronous{
		opts:  opts,
		local: newGoroutineLocal[localWorkState](),
		stats: Stats{Executor: "passthrough", ByTask: newByTaskStats()},
	}
	s.shutdownCond = sync.NewCond(&s.shutdownMu)
	return s
}

// Start marks the executor running and samples hardware concurrency for
// the oversubscription-yield heuristic in Schedule.
func (s *Synchronous) Start() error {
	s.numHardwareCores = runtime.NumCPU()
	s.running.Store(true)
	return nil
}

// Shutdown stops accepting new sessions and waits up to timeout for all
// worker goroutines to exit. A worker finishes the task it is running and
// then exits without running the tasks still in its queue.
func (s *Synchronous) Shutdown(timeout time.Duration) error {
	s.running.Store(false)

	done := make(chan struct{})
	go func() {
		s.shutdownMu.Lock()
		for s.threadsRunning.Load() != 0 {
			s.shutdownCond.Wait()
		}
		s.shutdownMu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrExceededTimeLimit
	}
}

// TransportMode reports synchronous scheduling: SSMs running under this
// executor are pinned (Static ownership) to their worker goroutine.
func (s *Synchronous) TransportMode() TransportMode { return SynchronousMode }

// Schedule implements the re-entrant deque logic: the very first call for
// a not-yet-running worker spawns the goroutine that will own the local
// deque for the lifetime of that session.
func (s *Synchronous) Schedule(task Task, flags ScheduleFlags, name TaskName) error {
	if !s.running.Load() {
		return ErrShutdownInProgress
	}

	s.recordQueued(name)

	if state, ok := s.local.get(); ok {
		if flags.Has(MayYieldBeforeSchedule) {
			state.idleCounter++
			if state.idleCounter&0xf == 0 {
				markThreadIdle()
			}
			if int(s.threadsRunning.Load()) > s.numHardwareCores {
				runtime.Gosched()
			}
		}

		if flags.Has(MayRecurse) && state.recursionDepth < s.opts.RecursionLimit {
			state.recursionDepth++
			s.runTimed(task, name)
			return nil
		}

		state.queue = append(state.queue, queuedTask{task, name})
		return nil
	}

	s.threadsRunning.Add(1)
	go s.workerLoop(task, name)
	return nil
}

func (s *Synchronous) workerLoop(first Task, firstName TaskName) {
	state := &localWorkState{queue: []queuedTask{{first, firstName}}}
	s.local.set(state)
	defer s.local.delete()

	for len(state.queue) > 0 && s.running.Load() {
		state.recursionDepth = 1
		qt := state.queue[0]
		state.queue = state.queue[1:]
		s.runTimed(qt.task, qt.name)
	}

	remaining := s.threadsRunning.Add(-1)
	ticks.Check(remaining >= 0, "synchronous executor threadsRunning went negative (%d)", remaining)
	if remaining == 0 {
		s.shutdownMu.Lock()
		s.shutdownCond.Broadcast()
		s.shutdownMu.Unlock()
	}
}

func (s *Synchronous) runTimed(task Task, name TaskName) {
	start := time.Now()
	task()
	elapsed := time.Since(start)

	s.statsMu.Lock()
	s.stats.TotalExecuted++
	s.stats.TotalTimeExecutingMicros += elapsed.Microseconds()
	ts := s.stats.ByTask[name.String()]
	ts.TotalExecuted++
	ts.TotalTimeExecutingMicros += elapsed.Microseconds()
	s.stats.ByTask[name.String()] = ts
	s.statsMu.Unlock()
}

func (s *Synchronous) recordQueued(name TaskName) {
	s.statsMu.Lock()
	s.stats.TotalQueued++
	ts := s.stats.ByTask[name.String()]
	ts.TotalQueued++
	s.stats.ByTask[name.String()] = ts
	s.statsMu.Unlock()
}

// Stats returns a point-in-time snapshot of this executor's metrics.
func (s *Synchronous) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	snapshot := s.stats
	snapshot.ThreadsRunning = int(s.threadsRunning.Load())
	byTask := make(map[string]TaskStats, len(s.stats.ByTask))
	for k, v := range s.stats.ByTask {
		byTask[k] = v
	}
	snapshot.ByTask = byTask
	return snapshot
}

// markThreadIdle is a hook point for an allocator to reclaim per-thread
// caches, the kind tcmalloc exposes as a thread-idle callback. Go's
// allocator has no equivalent hook, so this is a no-op; the call sites
// keep their every-16th-schedule throttle so a real hook could be dropped
// in without touching them.
func markThreadIdle() {}
