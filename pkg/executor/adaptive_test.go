package executor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noisefs-labs/execcore/pkg/clock"
	"github.com/noisefs-labs/execcore/pkg/reactor"
)

func newTestAdaptive(t *testing.T, opts AdaptiveOptions) (*Adaptive, *reactor.Reactor) {
	t.Helper()
	clk := clock.New(time.Millisecond)
	t.Cleanup(clk.Close)
	r := reactor.New(clk)
	a := NewAdaptive(r, opts)
	require.NoError(t, a.Start())
	t.Cleanup(func() { _ = a.Shutdown(time.Second) })
	return a, r
}

func TestAdaptive_ReservesMinimumThreads(t *testing.T) {
	opts := DefaultAdaptiveOptions()
	opts.ReservedThreads = 2
	opts.StuckThreadTimeout = 20 * time.Millisecond

	a, _ := newTestAdaptive(t, opts)

	require.Eventually(t, func() bool {
		return a.threadsRunning.Load() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestAdaptive_ScheduleRunsTask(t *testing.T) {
	opts := DefaultAdaptiveOptions()
	opts.ReservedThreads = 1
	opts.StuckThreadTimeout = 20 * time.Millisecond
	opts.WorkerRunTime = 50 * time.Millisecond

	a, _ := newTestAdaptive(t, opts)

	var ran atomic.Bool
	done := make(chan struct{})
	err := a.Schedule(func() {
		ran.Store(true)
		close(done)
	}, None, ProcessMessage)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduled task never ran")
	}
	assert.True(t, ran.Load())
}

func TestAdaptive_ScheduleAfterShutdownFails(t *testing.T) {
	opts := DefaultAdaptiveOptions()
	a, _ := newTestAdaptive(t, opts)

	require.NoError(t, a.Shutdown(time.Second))

	err := a.Schedule(func() {}, None, ProcessMessage)
	assert.ErrorIs(t, err, ErrShutdownInProgress)
}

func TestAdaptive_StatsReflectExecutedTasks(t *testing.T) {
	opts := DefaultAdaptiveOptions()
	opts.ReservedThreads = 1
	opts.StuckThreadTimeout = 20 * time.Millisecond
	opts.WorkerRunTime = 50 * time.Millisecond

	a, _ := newTestAdaptive(t, opts)

	done := make(chan struct{})
	require.NoError(t, a.Schedule(func() { close(done) }, None, SourceMessage))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}

	require.Eventually(t, func() bool {
		return a.Stats().TotalExecuted >= 1
	}, time.Second, 5*time.Millisecond)

	stats := a.Stats()
	assert.Equal(t, "adaptive", stats.Executor)
	assert.GreaterOrEqual(t, stats.ByTask["sourceMessage"].TotalExecuted, int64(1))
}

func TestAdaptive_JitteredRunTimeStaysWithinBounds(t *testing.T) {
	opts := DefaultAdaptiveOptions()
	opts.WorkerRunTime = 100 * time.Millisecond
	opts.RunTimeJitterPct = 10

	a := NewAdaptive(nil, opts)
	for i := 0; i < 50; i++ {
		d := a.jitteredRunTime()
		assert.GreaterOrEqual(t, d, 90*time.Millisecond)
		assert.LessOrEqual(t, d, 110*time.Millisecond)
	}
}

func TestAdaptive_StarvationSpawnsThreads(t *testing.T) {
	opts := DefaultAdaptiveOptions()
	opts.ReservedThreads = 1
	opts.WorkerRunTime = 5 * time.Second
	opts.StuckThreadTimeout = 10 * time.Millisecond
	opts.MaxQueueLatency = 5 * time.Millisecond
	opts.IdlePctThreshold = 1

	a, _ := newTestAdaptive(t, opts)

	var completed atomic.Int64
	for i := 0; i < 10; i++ {
		require.NoError(t, a.Schedule(func() {
			time.Sleep(100 * time.Millisecond)
			completed.Add(1)
		}, None, ProcessMessage))
	}

	require.Eventually(t, func() bool {
		return a.threadsRunning.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return a.Stats().ThreadsStartedBy.Starvation >= 1
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return completed.Load() == 10
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAdaptive_StuckDetectionUnblocksQueue(t *testing.T) {
	opts := DefaultAdaptiveOptions()
	opts.ReservedThreads = 1
	opts.WorkerRunTime = 5 * time.Second
	opts.StuckThreadTimeout = 20 * time.Millisecond
	// Starvation must stay quiet here so the stuck detector is the only
	// path to a new worker.
	opts.MaxQueueLatency = time.Hour

	a, _ := newTestAdaptive(t, opts)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	blocked := make(chan struct{})
	require.NoError(t, a.Schedule(func() {
		close(blocked)
		<-release
	}, None, ProcessMessage))
	<-blocked

	secondDone := make(chan struct{})
	require.NoError(t, a.Schedule(func() { close(secondDone) }, None, ProcessMessage))

	select {
	case <-secondDone:
	case <-time.After(2 * time.Second):
		t.Fatal("second task never ran while first was blocked")
	}
	assert.GreaterOrEqual(t, a.Stats().ThreadsStartedBy.StuckDetection, int64(1))
}

func TestAdaptive_IdleWorkersDecayToReservedFloor(t *testing.T) {
	opts := DefaultAdaptiveOptions()
	opts.ReservedThreads = 0
	opts.WorkerRunTime = 30 * time.Millisecond
	opts.StuckThreadTimeout = 10 * time.Millisecond
	opts.MaxQueueLatency = time.Millisecond
	opts.IdlePctThreshold = 60

	a, _ := newTestAdaptive(t, opts)

	done := make(chan struct{})
	require.NoError(t, a.Schedule(func() { close(done) }, None, ProcessMessage))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	require.Eventually(t, func() bool {
		return a.threadsRunning.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return a.threadsRunning.Load() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAdaptive_RecursionLimitZeroAlwaysPosts(t *testing.T) {
	opts := DefaultAdaptiveOptions()
	opts.ReservedThreads = 1
	opts.StuckThreadTimeout = 20 * time.Millisecond
	opts.WorkerRunTime = 100 * time.Millisecond
	opts.RecursionLimit = 0

	a, _ := newTestAdaptive(t, opts)

	var innerInline atomic.Bool
	outerDone := make(chan struct{})
	innerDone := make(chan struct{})
	require.NoError(t, a.Schedule(func() {
		ranInline := false
		err := a.Schedule(func() {
			ranInline = true
			close(innerDone)
		}, MayRecurse, ProcessMessage)
		require.NoError(t, err)
		innerInline.Store(ranInline)
		close(outerDone)
	}, None, SourceMessage))

	select {
	case <-outerDone:
	case <-time.After(time.Second):
		t.Fatal("outer task never ran")
	}
	assert.False(t, innerInline.Load(), "recursion limit 0 must behave like no MayRecurse")

	select {
	case <-innerDone:
	case <-time.After(time.Second):
		t.Fatal("posted inner task never ran")
	}
}

func TestAdaptive_RecursiveScheduleRunsInline(t *testing.T) {
	opts := DefaultAdaptiveOptions()
	opts.ReservedThreads = 1
	opts.StuckThreadTimeout = 20 * time.Millisecond
	opts.WorkerRunTime = 100 * time.Millisecond
	opts.RecursionLimit = 4

	a, _ := newTestAdaptive(t, opts)

	outerDone := make(chan struct{})
	require.NoError(t, a.Schedule(func() {
		innerDone := make(chan struct{})
		err := a.Schedule(func() { close(innerDone) }, MayRecurse, ProcessMessage)
		require.NoError(t, err)
		<-innerDone
		close(outerDone)
	}, MayRecurse, SourceMessage))

	select {
	case <-outerDone:
	case <-time.After(time.Second):
		t.Fatal("recursive schedule deadlocked or never ran")
	}
}
