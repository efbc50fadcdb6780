package entrypoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noisefs-labs/execcore/pkg/executor"
	"github.com/noisefs-labs/execcore/pkg/session"
)

func newRunningSync(t *testing.T) *executor.Synchronous {
	t.Helper()
	e := executor.NewSynchronous(executor.DefaultSynchronousOptions())
	require.NoError(t, e.Start())
	t.Cleanup(func() { _ = e.Shutdown(time.Second) })
	return e
}

type stopErr struct{}

func (stopErr) Error() string { return "stop" }

// newTestSession builds a session whose Source either blocks on
// blockSource (simulating a connection held open) or returns immediately
// with a stop error (simulating a client that disconnects before sending
// any message). Once blockSource is closed it returns the same stop error.
func newTestSession(id uint64, exec executor.Executor, ep *EntryPoint, blockSource <-chan struct{}) *session.Session {
	source := func() (any, bool, error) {
		if blockSource != nil {
			<-blockSource
		}
		return nil, false, stopErr{}
	}
	process := func(any) (any, bool, error) { return nil, false, nil }
	sink := func(any) error { return nil }
	return session.New(id, exec, source, process, sink, ep.CleanupHook())
}

func TestEntryPoint_AdmitsUnderCap(t *testing.T) {
	exec := newRunningSync(t)
	ep := New(10, nil)

	sess := newTestSession(1, exec, ep, nil)
	require.NoError(t, ep.StartSession(sess))

	assert.Equal(t, int64(1), ep.CreatedConnections())
}

func TestEntryPoint_RejectsOverCap(t *testing.T) {
	exec := newRunningSync(t)
	ep := New(1, nil)

	// A Synchronous executor is synchronous-mode, so Start() runs the
	// session's first step inline on whatever goroutine calls
	// StartSession — the same way the real server runs each accepted
	// connection on its own goroutine. Run it on its own goroutine here
	// to simulate that.
	block := make(chan struct{})
	first := newTestSession(1, exec, ep, block)
	admitted := make(chan struct{})
	go func() {
		_ = ep.StartSession(first)
		close(admitted)
	}()

	require.Eventually(t, func() bool { return ep.CurrentConnections() == 1 }, time.Second, 5*time.Millisecond)

	second := newTestSession(2, exec, ep, nil)
	err := ep.StartSession(second)
	assert.ErrorIs(t, err, ErrTooManyConnections)

	close(block)
	<-admitted
}

func TestEntryPoint_CleanupRemovesFromList(t *testing.T) {
	exec := newRunningSync(t)
	ep := New(10, nil)

	sess := newTestSession(1, exec, ep, nil)
	require.NoError(t, ep.StartSession(sess))

	require.Eventually(t, func() bool {
		return ep.CurrentConnections() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestEntryPoint_ShutdownDrainsAllSessions(t *testing.T) {
	exec := newRunningSync(t)
	ep := New(10, nil)

	const n = 5
	blocks := make([]chan struct{}, n)
	for i := range blocks {
		blocks[i] = make(chan struct{})
		sess := newTestSession(uint64(i+1), exec, ep, blocks[i])
		go func(s *session.Session) { _ = ep.StartSession(s) }(sess)
	}

	require.Eventually(t, func() bool { return ep.CurrentConnections() == n }, time.Second, 5*time.Millisecond)

	go func() {
		time.Sleep(10 * time.Millisecond)
		for _, b := range blocks {
			close(b)
		}
	}()

	ok := ep.Shutdown(time.Second)
	assert.True(t, ok)
	assert.Equal(t, int64(0), ep.CurrentConnections())
}

func TestEntryPoint_ShutdownTimesOutIfSessionNeverDrains(t *testing.T) {
	exec := newRunningSync(t)
	ep := New(10, nil)

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	sess := newTestSession(99, exec, ep, block)
	go func() { _ = ep.StartSession(sess) }()

	require.Eventually(t, func() bool { return ep.CurrentConnections() == 1 }, time.Second, 5*time.Millisecond)

	ok := ep.Shutdown(50 * time.Millisecond)
	assert.False(t, ok)
}
