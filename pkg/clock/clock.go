// Package clock provides a cached, background-refreshed wall-clock source
// for callers that read "now" at high frequency — per-task instrumentation
// in the executor, mainly — who must not hit the OS clock on every read.
//
// A background goroutine wakes every granularity, reads the real clock,
// and stashes the result in an atomic. If nothing has read Now() since the
// last tick, the goroutine pauses itself and is woken again lazily by the
// next reader.
package clock

import (
	"time"

	"github.com/noisefs-labs/execcore/pkg/ticks"
)

// Source is a coarse, cached clock. Use New to construct one.
type Source struct {
	granularity time.Duration

	current   ticks.Word[int64] // unix nanos; 0 means the background goroutine is paused
	willPause ticks.Bool        // true when the goroutine will pause on its next iteration

	notify  chan struct{}
	stop    chan struct{}
	stopped chan struct{}
}

// New starts the background goroutine and blocks until it has started, so
// startup is deterministic for tests.
func New(granularity time.Duration) *Source {
	s := &Source{
		granularity: granularity,
		notify:      make(chan struct{}, 1),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	s.willPause.Store(true)

	started := make(chan struct{})
	go s.run(started)
	<-started

	return s
}

// Now returns the cached wall time, never more than Granularity stale
// (modulo scheduling jitter) and never the zero time.
func (s *Source) Now() time.Time {
	if s.willPause.Load() {
		return s.slowNow()
	}
	now := s.current.Load()
	if now == 0 {
		return s.slowNow()
	}
	return time.Unix(0, now)
}

// Granularity returns the configured refresh interval.
func (s *Source) Granularity() time.Duration { return s.granularity }

// PeekForTest returns the raw cached value without waking the background
// goroutine; it returns the zero time if the goroutine is currently paused.
// Exists so tests can observe the pause/resume behavior directly.
func (s *Source) PeekForTest() time.Time {
	now := s.current.Load()
	if now == 0 {
		return time.Time{}
	}
	return time.Unix(0, now)
}

// slowNow is the rarely-taken path: called at most once per granularity per
// reader in the common case, and responsible for resuming a paused
// background goroutine.
func (s *Source) slowNow() time.Time {
	s.willPause.Store(false)
	if now := s.current.Load(); now != 0 {
		return time.Unix(0, now)
	}

	// Wake the background goroutine (non-blocking; it may already be awake
	// or about to check the channel) and compute one fresh value inline so
	// the caller never observes a zero reading.
	select {
	case s.notify <- struct{}{}:
	default:
	}
	now := time.Now().UnixNano()
	s.current.Store(now)
	return time.Unix(0, now)
}

func (s *Source) run(started chan struct{}) {
	close(started)

	for {
		select {
		case <-s.stop:
			close(s.stopped)
			return
		default:
		}

		if !s.willPause.Swap(true) {
			s.current.Store(time.Now().UnixNano())
		} else {
			// Nothing has read Now() since the last tick: pause until a
			// reader wakes us via notify.
			s.current.Store(0)
			select {
			case <-s.notify:
			case <-s.stop:
				close(s.stopped)
				return
			}
			continue
		}

		select {
		case <-time.After(s.granularity):
		case <-s.stop:
			close(s.stopped)
			return
		}
	}
}

// Close stops the background goroutine and waits for it to exit.
func (s *Source) Close() {
	close(s.stop)
	<-s.stopped
}
