package executor

import (
	"container/list"
	"time"

	"github.com/noisefs-labs/execcore/pkg/ticks"
)

// spawn creates a new worker, links its threadState into the stable list,
// and launches its goroutine.
func (a *Adaptive) spawn(reason threadCreationReason) {
	a.threadsPending.Add(1)
	a.threadStartCounters[reason].Add(1)

	state := &threadState{
		running:   ticks.NewCumulativeTickTimer(),
		executing: ticks.NewCumulativeTickTimer(),
	}

	a.threadsMu.Lock()
	elem := a.threads.PushBack(state)
	a.threadsMu.Unlock()

	a.threadsRunning.Add(1)
	go a.workerLoop(elem, state)
}

// workerLoop is one adaptive worker: repeatedly drive the shared reactor
// for a jittered window, then re-evaluate the exit policy.
func (a *Adaptive) workerLoop(elem *list.Element, state *threadState) {
	a.workerLocal.set(state)
	defer a.workerLocal.delete()

	a.threadsPending.Add(-1)

	for {
		executingBefore := state.executing.Total()
		state.running.MarkRunning()
		window := a.jitteredRunTime()
		a.r.RunFor(window)
		runningTicks := state.running.MarkStopped()
		executingTicks := state.executing.Total() - executingBefore

		if !a.isRunning.Load() {
			a.retire(elem, state)
			return
		}

		if a.shouldExit(runningTicks, executingTicks) {
			a.retire(elem, state)
			return
		}
	}
}

// shouldExit is the worker exit policy: never exit at or below the
// reserved floor; otherwise exit if the fraction of the run window just
// finished that was spent executing falls below IdlePctThreshold.
func (a *Adaptive) shouldExit(runningTicks, executingTicks time.Duration) bool {
	if a.threadsRunning.Load() <= int64(a.opts.ReservedThreads) {
		return false
	}
	if runningTicks <= 0 {
		return false
	}

	idlePct := int(executingTicks * 100 / runningTicks)
	return idlePct < a.opts.IdlePctThreshold
}

// retire unlinks a departing worker, folds its cumulative timers into the
// past-threads totals, and notifies shutdown waiters if this was the last
// worker standing.
func (a *Adaptive) retire(elem *list.Element, state *threadState) {
	a.threadsMu.Lock()
	a.threads.Remove(elem)
	a.threadsMu.Unlock()

	a.pastThreadsSpentExecuting.Add(int64(state.executing.Total()))
	a.pastThreadsSpentRunning.Add(int64(state.running.Total()))

	remaining := a.threadsRunning.Add(-1)
	ticks.Check(remaining >= 0, "adaptive executor threadsRunning went negative (%d)", remaining)
	if remaining == 0 {
		a.deathMu.Lock()
		a.deathCond.Broadcast()
		a.deathMu.Unlock()
	}
}

// controllerLoop is the single dedicated goroutine that spawns workers in
// response to starvation, stuck detection, and the reserved-minimum floor.
func (a *Adaptive) controllerLoop() {
	defer close(a.controllerDone)

	var lastThreadsInUse int64 = -1
	var lastExecutingTotal time.Duration = -1
	var queueNonEmptySince time.Time

	for a.isRunning.Load() {
		select {
		case <-a.scheduleWake:
		case <-time.After(a.opts.StuckThreadTimeout):
		}

		if !a.isRunning.Load() {
			break
		}

		a.starvationCheckRequests.Store(0)

		queued := a.tasksQueued.Load()
		if queued == 0 {
			queueNonEmptySince = time.Time{}
		} else if queueNonEmptySince.IsZero() {
			queueNonEmptySince = time.Now()
		}

		if a.isStarved(queued, queueNonEmptySince) {
			a.logOnce("starvation", func() {
				a.spawn(reasonStarvation)
			})
		}

		for a.threadsRunning.Load() < int64(a.opts.ReservedThreads) {
			a.spawn(reasonReserveMinimum)
		}

		// Stuck: between two consecutive iterations, no worker closed an
		// executing slice (a blocked task holds its slice open, so the
		// closed-slice sum freezes), threads-in-use didn't drop, and the
		// queue stayed non-empty for at least the poll period.
		inUse := a.threadsInUse.Load()
		executingTotal := a.sumExecutingAccumulated()
		if queued > 0 && inUse == lastThreadsInUse && executingTotal == lastExecutingTotal &&
			!queueNonEmptySince.IsZero() && time.Since(queueNonEmptySince) >= a.opts.StuckThreadTimeout {
			a.logOnce("stuck", func() {
				a.spawn(reasonStuckDetection)
			})
		}
		lastThreadsInUse = inUse
		lastExecutingTotal = executingTotal
	}
}

// isStarved is the starvation predicate: queued work, every worker busy,
// and the oldest queued task older than MaxQueueLatency.
func (a *Adaptive) isStarved(queued int64, queueSince time.Time) bool {
	if queued == 0 {
		return false
	}
	if a.threadsInUse.Load() < a.threadsRunning.Load() {
		return false
	}
	// "Queue continuously non-empty past the latency bound" is the direct
	// measurement; the schedule timer is the proxy for a burst the
	// controller hasn't observed across two iterations yet — if even the
	// youngest queued task is older than the bound, the oldest must be.
	if !queueSince.IsZero() && time.Since(queueSince) > a.opts.MaxQueueLatency {
		return true
	}
	return a.lastScheduleTimer.SinceStart() > a.opts.MaxQueueLatency
}

func (a *Adaptive) sumExecutingTotal() time.Duration {
	var total time.Duration
	a.threadsMu.Lock()
	for e := a.threads.Front(); e != nil; e = e.Next() {
		total += e.Value.(*threadState).executing.Total()
	}
	a.threadsMu.Unlock()
	return total
}

// sumExecutingAccumulated is the stuck detector's progress measure: only
// closed executing slices count, so a worker blocked mid-task contributes a
// frozen value rather than one that advances with wall time.
func (a *Adaptive) sumExecutingAccumulated() time.Duration {
	var total time.Duration
	a.threadsMu.Lock()
	for e := a.threads.Front(); e != nil; e = e.Next() {
		total += e.Value.(*threadState).executing.Accumulated()
	}
	a.threadsMu.Unlock()
	return total
}

// logOnce suppresses repeated identical warnings across controller ticks
// using a bloom filter keyed by reason: a controller that's stuck for many
// consecutive ticks would otherwise log once per StuckThreadTimeout, which
// at a tight timeout floods the log with an identical line.
func (a *Adaptive) logOnce(reason string, spawn func()) {
	key := []byte(reason)

	a.loggedMu.Lock()
	seen := a.loggedOnce.Test(key)
	if !seen {
		a.loggedOnce.Add(key)
	}
	a.loggedMu.Unlock()

	if !seen && a.logger != nil {
		a.logger.Warnf("adaptive executor spawning worker: reason=%s", reason)
	}
	spawn()
}
