package executor

import (
	"container/list"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/noisefs-labs/execcore/pkg/reactor"
	"github.com/noisefs-labs/execcore/pkg/ticks"
)

// AdaptiveOptions configures the Adaptive executor. All fields are fixed
// at construction; runtime retuning goes through a fresh executor or the
// config watcher at the next restartable boundary.
type AdaptiveOptions struct {
	// ReservedThreads is the floor below which the controller always
	// spawns more workers, even at zero load.
	ReservedThreads int
	// WorkerRunTime is the nominal duration each worker drives its
	// reactor before re-evaluating the exit policy.
	WorkerRunTime time.Duration
	// RunTimeJitterPct offsets WorkerRunTime by a uniform random
	// percentage in [-pct, +pct] to avoid synchronized exits.
	RunTimeJitterPct int
	// StuckThreadTimeout bounds how long the controller waits between
	// checks for stuck (non-progressing) workers.
	StuckThreadTimeout time.Duration
	// MaxQueueLatency is the maximum tolerable delay between a task
	// being queued and a thread picking it up before the pool is
	// considered starved.
	MaxQueueLatency time.Duration
	// IdlePctThreshold: workers whose executing/running ratio over a
	// run window falls below this percentage exit.
	IdlePctThreshold int
	// RecursionLimit bounds MayRecurse inline nesting depth.
	RecursionLimit int
}

// DefaultAdaptiveOptions returns the defaults the server ships with.
func DefaultAdaptiveOptions() AdaptiveOptions {
	return AdaptiveOptions{
		ReservedThreads:    1,
		WorkerRunTime:      3 * time.Second,
		RunTimeJitterPct:   15,
		StuckThreadTimeout: 250 * time.Millisecond,
		MaxQueueLatency:    500 * time.Microsecond,
		IdlePctThreshold:   60,
		RecursionLimit:     8,
	}
}

type threadCreationReason int

const (
	reasonStuckDetection threadCreationReason = iota
	reasonStarvation
	reasonReserveMinimum
	maxThreadCreationReason
)

// threadState is the per-worker bookkeeping, held as a *list.Element
// payload so the controller can walk live workers while each worker keeps
// a stable reference to its own node for unlinking at exit.
type threadState struct {
	running   *ticks.CumulativeTickTimer
	executing *ticks.CumulativeTickTimer

	// executingDepth counts task-wrapper nesting on this worker: inline
	// MayRecurse invocations run inside an already-open executing slice,
	// so only the outermost wrapper opens/closes the slice and bumps
	// threadsInUse.
	executingDepth  int
	markIdleCounter int64
	recursionDepth  int
}

// Adaptive is the elastic worker-pool executor: a controller goroutine
// grows and shrinks a set of workers, each driving a shared reactor,
// responding to starvation and stuck-thread conditions within bounded
// latency.
type Adaptive struct {
	opts AdaptiveOptions
	r    *reactor.Reactor

	isRunning        atomic.Bool
	numHardwareCores int

	threadsMu           sync.Mutex
	threads             *list.List // of *threadState
	threadStartCounters [maxThreadCreationReason]atomic.Int64

	threadsRunning atomic.Int64
	threadsPending atomic.Int64
	threadsInUse   atomic.Int64
	tasksQueued    atomic.Int64
	deferredQueued atomic.Int64

	lastScheduleTimer *ticks.TickTimer

	pastThreadsSpentExecuting atomic.Int64 // nanoseconds
	pastThreadsSpentRunning   atomic.Int64 // nanoseconds

	starvationCheckRequests atomic.Int64
	scheduleWake            chan struct{}

	deathMu   sync.Mutex
	deathCond *sync.Cond

	controllerDone chan struct{}

	totalQueued      atomic.Int64
	totalExecuted    atomic.Int64
	totalSpentQueued atomic.Int64 // microseconds
	byTaskMu         sync.Mutex
	byTask           map[string]*TaskStats

	loggedOnce *bloom.BloomFilter
	loggedMu   sync.Mutex

	// workerLocal maps a worker goroutine to its threadState (see
	// goroutine_local.go).
	workerLocal *goroutineLocal[threadState]

	logger Logger
}

// Logger is the subset of pkg/logging's structured logger the executor
// needs for its (rare, dedup'd) stuck/starvation warnings. Defined here
// rather than importing pkg/logging directly to avoid a dependency cycle
// with executors embedded in logging-adjacent tooling.
type Logger interface {
	Warnf(format string, args ...any)
}

// WithLogger attaches l to a, used for stuck/starvation warnings.
func (a *Adaptive) WithLogger(l Logger) *Adaptive {
	a.logger = l
	return a
}

// NewAdaptive constructs an Adaptive executor driving r, not yet started.
func NewAdaptive(r *reactor.Reactor, opts AdaptiveOptions) *Adaptive {
	a := &Adaptive{
		opts:              opts,
		r:                 r,
		threads:           list.New(),
		lastScheduleTimer: ticks.NewTickTimer(),
		scheduleWake:      make(chan struct{}, 1),
		controllerDone:    make(chan struct{}),
		byTask:            make(map[string]*TaskStats, int(maxTaskName)),
		// False-positive rate doesn't need to be tiny: a log suppressed
		// one extra time costs nothing, an occasional duplicate costs a
		// noisier log, not correctness.
		loggedOnce:  bloom.NewWithEstimates(1024, 0.01),
		workerLocal: newGoroutineLocal[threadState](),
	}
	a.deathCond = sync.NewCond(&a.deathMu)
	for i := TaskName(0); i < maxTaskName; i++ {
		a.byTask[i.String()] = &TaskStats{}
	}
	return a
}

// Start launches the controller goroutine. Start itself spawns no workers;
// the controller spawns the reserved minimum set from its loop.
func (a *Adaptive) Start() error {
	a.numHardwareCores = runtime.NumCPU()
	a.isRunning.Store(true)
	go a.controllerLoop()
	return nil
}

// TransportMode reports asynchronous scheduling: SSMs running under this
// executor use Owned ownership, released between transitions.
func (a *Adaptive) TransportMode() TransportMode { return AsynchronousMode }

// Schedule queues task for the shared reactor, or runs it inline when
// flags permits recursion and the caller is already on a pool worker.
func (a *Adaptive) Schedule(task Task, flags ScheduleFlags, name TaskName) error {
	if !a.isRunning.Load() {
		return ErrShutdownInProgress
	}

	a.lastScheduleTimer.Reset()
	a.totalQueued.Add(1)
	a.bumpTaskQueued(name)

	wrapped := a.wrapTask(task, name)

	// Yield before recursing, not after: a submitter that hinted it may
	// yield gets the scheduler a chance to run other goroutines first,
	// and only then do we consider running the task inline.
	if flags.Has(MayYieldBeforeSchedule) {
		if state, ok := a.currentWorkerState(); ok {
			state.markIdleCounter++
			if state.markIdleCounter&0xf == 0 {
				markThreadIdle()
			}
			if a.threadsRunning.Load() > int64(a.numHardwareCores) {
				runtime.Gosched()
			}
		}
	}

	if flags.Has(MayRecurse) {
		if state, ok := a.currentWorkerState(); ok && state.recursionDepth < a.opts.RecursionLimit {
			state.recursionDepth++
			wrapped()
			state.recursionDepth--
			return nil
		}
	}

	if flags.Has(Deferred) {
		a.deferredQueued.Add(1)
		a.r.Schedule(reactor.Post, func() {
			a.deferredQueued.Add(-1)
			wrapped()
		})
		return nil
	}

	a.tasksQueued.Add(1)
	a.r.Schedule(reactor.Post, func() {
		a.tasksQueued.Add(-1)
		wrapped()
	})

	a.starvationCheckRequests.Add(1)
	select {
	case a.scheduleWake <- struct{}{}:
	default:
	}

	return nil
}

// wrapTask closes over queue-wait and executing-time instrumentation so
// the wrapped task's run updates the worker's cumulative tick timers.
func (a *Adaptive) wrapTask(task Task, name TaskName) Task {
	queueTimer := ticks.NewTickTimer()
	return func() {
		queueWait := queueTimer.SinceStart()

		state, haveState := a.currentWorkerState()
		if haveState {
			if state.executingDepth == 0 {
				state.executing.MarkRunning()
				a.threadsInUse.Add(1)
			}
			state.executingDepth++
		}

		start := time.Now()
		task()
		elapsed := time.Since(start)

		if haveState {
			state.executingDepth--
			if state.executingDepth == 0 {
				a.threadsInUse.Add(-1)
				state.executing.MarkStopped()
			}
		}

		a.totalExecuted.Add(1)
		a.totalSpentQueued.Add(queueWait.Microseconds())
		a.bumpTaskExecuted(name, queueWait, elapsed)
	}
}

func (a *Adaptive) bumpTaskQueued(name TaskName) {
	a.byTaskMu.Lock()
	a.byTask[name.String()].TotalQueued++
	a.byTaskMu.Unlock()
}

func (a *Adaptive) bumpTaskExecuted(name TaskName, queueWait, executing time.Duration) {
	a.byTaskMu.Lock()
	ts := a.byTask[name.String()]
	ts.TotalExecuted++
	ts.TotalTimeQueuedMicros += queueWait.Microseconds()
	ts.TotalTimeExecutingMicros += executing.Microseconds()
	a.byTaskMu.Unlock()
}

// currentWorkerState returns the threadState for the calling goroutine, if
// it is a pool worker. Workers register themselves in workerLocal before
// entering their run loop.
func (a *Adaptive) currentWorkerState() (*threadState, bool) {
	return a.workerLocal.get()
}

// Shutdown stops the reactor and waits for every worker to retire,
// returning ErrExceededTimeLimit if they haven't within timeout.
func (a *Adaptive) Shutdown(timeout time.Duration) error {
	a.isRunning.Store(false)
	a.r.Stop()

	// Wake the controller so it notices the cleared running flag now
	// rather than after its next full poll period.
	select {
	case a.scheduleWake <- struct{}{}:
	default:
	}

	done := make(chan struct{})
	go func() {
		a.deathMu.Lock()
		for a.threadsRunning.Load() != 0 {
			a.deathCond.Wait()
		}
		a.deathMu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		<-a.controllerDone
		return nil
	case <-time.After(timeout):
		return ErrExceededTimeLimit
	}
}

// Stats returns a point-in-time snapshot of the pool's JSON stats surface.
func (a *Adaptive) Stats() Stats {
	a.byTaskMu.Lock()
	byTask := make(map[string]TaskStats, len(a.byTask))
	for k, v := range a.byTask {
		byTask[k] = *v
	}
	a.byTaskMu.Unlock()

	// Total executing time spans live and exited workers: exited workers'
	// timers were folded into pastThreadsSpentExecuting at retirement.
	executing := time.Duration(a.pastThreadsSpentExecuting.Load()) + a.sumExecutingTotal()

	return Stats{
		Executor:                 "adaptive",
		ThreadsRunning:           int(a.threadsRunning.Load()),
		ThreadsInUse:             int(a.threadsInUse.Load()),
		ThreadsPending:           int(a.threadsPending.Load()),
		TasksQueued:              int(a.tasksQueued.Load()),
		DeferredTasksQueued:      int(a.deferredQueued.Load()),
		TotalQueued:              a.totalQueued.Load(),
		TotalExecuted:            a.totalExecuted.Load(),
		TotalTimeExecutingMicros: executing.Microseconds(),
		TotalTimeQueuedMicros:    a.totalSpentQueued.Load(),
		ThreadsStartedBy: ThreadsStartedBy{
			StuckDetection: a.threadStartCounters[reasonStuckDetection].Load(),
			Starvation:     a.threadStartCounters[reasonStarvation].Load(),
			ReserveMinimum: a.threadStartCounters[reasonReserveMinimum].Load(),
		},
		ByTask: byTask,
	}
}

// jitteredRunTime returns WorkerRunTime offset by a uniform random value in
// [-jitter%, +jitter%], so worker exits don't synchronize across the pool.
// The offset is drawn at millisecond resolution; a jitter range that rounds
// below 1ms yields no offset at all.
func (a *Adaptive) jitteredRunTime() time.Duration {
	base := a.opts.WorkerRunTime
	if a.opts.RunTimeJitterPct <= 0 {
		return base
	}
	maxOffsetMs := (time.Duration(int64(base) * int64(a.opts.RunTimeJitterPct) / 100)).Milliseconds()
	if maxOffsetMs <= 0 {
		return base
	}
	offsetMs := rand.Int63n(2*maxOffsetMs+1) - maxOffsetMs
	return base + time.Duration(offsetMs)*time.Millisecond
}
