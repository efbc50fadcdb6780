package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noisefs-labs/execcore/pkg/clock"
)

func newTestReactor(t *testing.T) *Reactor {
	t.Helper()
	clk := clock.New(time.Millisecond)
	t.Cleanup(clk.Close)
	return New(clk)
}

func TestReactor_PostRunsOnLoop(t *testing.T) {
	r := newTestReactor(t)
	done := make(chan struct{})

	r.Schedule(Post, func() { close(done) })

	go r.Run()
	defer r.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("posted task never ran")
	}
}

func TestReactor_DispatchRunsInlineOnLoopGoroutine(t *testing.T) {
	r := newTestReactor(t)
	ranInline := make(chan bool, 1)

	started := make(chan struct{})
	r.Schedule(Post, func() {
		close(started)
		before := r.OnReactorThread()
		r.Schedule(Dispatch, func() {
			ranInline <- before
		})
	})

	go r.Run()
	defer r.Stop()

	<-started
	select {
	case v := <-ranInline:
		assert.True(t, v, "OnReactorThread should report true while running a task on the loop")
	case <-time.After(time.Second):
		t.Fatal("dispatched task never ran")
	}
}

func TestReactor_DispatchFromOutsidePostsInstead(t *testing.T) {
	r := newTestReactor(t)
	assert.False(t, r.OnReactorThread())

	done := make(chan struct{})
	go r.Run()
	defer r.Stop()

	r.Schedule(Dispatch, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatched-from-outside task never ran")
	}
}

func TestReactor_TimerFiresAfterDuration(t *testing.T) {
	r := newTestReactor(t)
	go r.Run()
	defer r.Stop()

	timer := r.MakeTimer()
	start := time.Now()
	result := timer.WaitFor(20 * time.Millisecond)

	select {
	case err := <-result:
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestReactor_TimerCancelResolvesWithCancellation(t *testing.T) {
	r := newTestReactor(t)
	go r.Run()
	defer r.Stop()

	timer := r.MakeTimer()
	result := timer.WaitFor(50 * time.Millisecond)
	timer.Cancel()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrCallbackCancelled)
	case <-time.After(time.Second):
		t.Fatal("canceled wait never resolved")
	}
}

func TestReactor_RearmCancelsPreviousWait(t *testing.T) {
	r := newTestReactor(t)
	go r.Run()
	defer r.Stop()

	timer := r.MakeTimer()
	first := timer.WaitFor(time.Minute)
	second := timer.WaitFor(10 * time.Millisecond)

	select {
	case err := <-first:
		assert.ErrorIs(t, err, ErrCallbackCancelled)
	case <-time.After(time.Second):
		t.Fatal("re-armed timer's previous wait never resolved")
	}

	select {
	case err := <-second:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("re-armed timer never fired")
	}
}

func TestReactor_RunForReturnsAtDeadline(t *testing.T) {
	r := newTestReactor(t)

	start := time.Now()
	r.RunFor(30 * time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
}

func TestReactor_StopBreaksRun(t *testing.T) {
	r := newTestReactor(t)
	done := make(chan struct{})
	go func() {
		r.Run()
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	r.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestReactor_NowAdvances(t *testing.T) {
	r := newTestReactor(t)
	first := r.Now()
	time.Sleep(10 * time.Millisecond)
	second := r.Now()
	assert.True(t, second.After(first) || second.Equal(first))
}
