// Package reactor implements a cooperative event loop that owns a timer
// heap and a posted-task queue. Any number of worker goroutines may drive
// the same Reactor through Run/RunFor concurrently — that is how the
// adaptive executor's pool scales task execution — but each queued task and
// timer callback runs on exactly one of them, and the queue and heap are
// only ever touched under the reactor's own lock by whichever driver holds
// it at that instant.
//
// The surface is deliberately small: Schedule with Dispatch/Post modes,
// Run/RunFor, MakeTimer, OnReactorThread, Now.
package reactor

import (
	"container/heap"
	"sync"
	"time"

	"github.com/noisefs-labs/execcore/pkg/clock"
)

// ScheduleMode selects how Schedule hands a task to the reactor.
type ScheduleMode int

const (
	// Dispatch runs the task inline if the caller is already on the
	// reactor goroutine; otherwise it behaves like Post.
	Dispatch ScheduleMode = iota
	// Post always enqueues the task to run on a future loop iteration.
	Post
)

// Task is a nullary callable posted to or run inline on the reactor.
type Task func()

// Reactor is an event loop: a task queue plus a timer heap. It does not
// restrict Run/RunFor to a single goroutine; several may drive it at once.
type Reactor struct {
	clk *clock.Source

	mu     sync.Mutex
	tasks  []Task
	timers timerHeap

	wake chan struct{}

	driversMu sync.Mutex
	drivers   map[int64]struct{} // goroutine ids currently inside Run/RunFor

	stopCh chan struct{}
	once   sync.Once
}

// New creates a Reactor backed by the given coarse clock (used for Now()).
func New(clk *clock.Source) *Reactor {
	return &Reactor{
		clk:     clk,
		wake:    make(chan struct{}, 1),
		drivers: make(map[int64]struct{}),
		stopCh:  make(chan struct{}),
	}
}

// Now returns the reactor's clock reading.
func (r *Reactor) Now() time.Time { return r.clk.Now() }

// OnReactorThread reports whether the calling goroutine is currently
// inside Run/RunFor on this reactor.
func (r *Reactor) OnReactorThread() bool {
	id := goroutineID()
	r.driversMu.Lock()
	_, ok := r.drivers[id]
	r.driversMu.Unlock()
	return ok
}

// Schedule hands a task to the reactor per mode. Dispatch runs inline when
// the caller is already on the reactor goroutine; Post always enqueues.
func (r *Reactor) Schedule(mode ScheduleMode, task Task) {
	if mode == Dispatch && r.OnReactorThread() {
		task()
		return
	}
	r.mu.Lock()
	r.tasks = append(r.tasks, task)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Stop breaks any in-progress or future Run/RunFor out of its loop.
func (r *Reactor) Stop() {
	r.once.Do(func() { close(r.stopCh) })
}

// Run drains tasks and timers until Stop is called.
func (r *Reactor) Run() {
	r.runLoop(nil)
}

// RunFor drains tasks and timers until Stop is called or duration elapses,
// whichever comes first. This is the call the adaptive executor's worker
// loop makes once per work window.
func (r *Reactor) RunFor(d time.Duration) {
	deadline := time.Now().Add(d)
	r.runLoop(&deadline)
}

func (r *Reactor) runLoop(deadline *time.Time) {
	id := goroutineID()
	r.driversMu.Lock()
	r.drivers[id] = struct{}{}
	r.driversMu.Unlock()
	defer func() {
		r.driversMu.Lock()
		delete(r.drivers, id)
		r.driversMu.Unlock()
	}()

	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		if deadline != nil && !time.Now().Before(*deadline) {
			return
		}

		r.runDueTimers()

		task, ok := r.popTask()
		if ok {
			task()
			continue
		}

		wait := r.nextWaitDuration(deadline)
		select {
		case <-r.stopCh:
			return
		case <-r.wake:
		case <-time.After(wait):
		}
	}
}

func (r *Reactor) popTask() (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.tasks) == 0 {
		return nil, false
	}
	t := r.tasks[0]
	r.tasks = r.tasks[1:]
	return t, true
}

// nextWaitDuration returns how long the loop may block before it must wake
// up to check the deadline or the next timer, whichever is sooner.
func (r *Reactor) nextWaitDuration(deadline *time.Time) time.Duration {
	const maxWait = 50 * time.Millisecond
	wait := maxWait

	if deadline != nil {
		if until := time.Until(*deadline); until < wait {
			wait = until
		}
	}

	r.mu.Lock()
	if len(r.timers) > 0 {
		if until := time.Until(r.timers[0].deadline); until < wait {
			wait = until
		}
	}
	r.mu.Unlock()

	if wait < 0 {
		wait = 0
	}
	return wait
}

func (r *Reactor) runDueTimers() {
	now := time.Now()
	for {
		r.mu.Lock()
		if len(r.timers) == 0 || r.timers[0].deadline.After(now) {
			r.mu.Unlock()
			return
		}
		entry := heap.Pop(&r.timers).(*timerEntry)
		r.mu.Unlock()

		entry.fire()
	}
}
