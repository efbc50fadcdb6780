package reactor

import (
	"container/heap"
	"sync"
	"time"
)

// Timer is a cancelable, reactor-owned alarm. WaitFor/WaitUntil arm it
// relative to now or to an absolute deadline, and Cancel disarms it before
// it fires. A Timer may be re-armed any number of times; re-arming an
// already-armed Timer cancels the previous wait first.
type Timer struct {
	r *Reactor

	mu     sync.Mutex
	entry  *timerEntry
	result chan error
}

// MakeTimer creates a new, initially unarmed Timer bound to this reactor.
func (r *Reactor) MakeTimer() *Timer {
	return &Timer{r: r}
}

// WaitFor arms the timer to fire after d elapses. The returned channel
// receives exactly one value: nil when the timer fired, or
// ErrCallbackCancelled when it was canceled (or re-armed) before firing.
func (r *Timer) WaitFor(d time.Duration) <-chan error {
	return r.WaitUntil(time.Now().Add(d))
}

// WaitUntil arms the timer to fire at the given absolute deadline.
func (r *Timer) WaitUntil(deadline time.Time) <-chan error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelLocked()

	result := make(chan error, 1)
	entry := &timerEntry{
		deadline: deadline,
		fire: func() {
			select {
			case result <- nil:
			default:
			}
		},
	}
	r.entry = entry
	r.result = result

	rr := r.r
	rr.mu.Lock()
	heap.Push(&rr.timers, entry)
	rr.mu.Unlock()

	select {
	case rr.wake <- struct{}{}:
	default:
	}

	return result
}

// Cancel disarms the timer if it hasn't already fired, resolving the
// outstanding wait with ErrCallbackCancelled. Safe to call even if the
// timer was never armed or has already fired (in which case it does
// nothing).
func (r *Timer) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelLocked()
}

// cancelLocked removes the armed entry from the reactor's heap. Only a
// still-pending wait resolves with ErrCallbackCancelled: if the entry was
// already popped for firing, the fire wins and the wait resolves nil.
func (r *Timer) cancelLocked() {
	if r.entry == nil {
		return
	}
	entry := r.entry
	result := r.result
	r.entry = nil
	r.result = nil

	rr := r.r
	removed := false
	rr.mu.Lock()
	if entry.index >= 0 && entry.index < len(rr.timers) && rr.timers[entry.index] == entry {
		heap.Remove(&rr.timers, entry.index)
		removed = true
	}
	rr.mu.Unlock()

	if removed {
		select {
		case result <- ErrCallbackCancelled:
		default:
		}
	}
}

// timerEntry is one entry in the reactor's timer min-heap, ordered by
// deadline. index is maintained by container/heap for O(log n) removal.
type timerEntry struct {
	deadline time.Time
	fire     func()
	index    int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	return h[i].deadline.Before(h[j].deadline)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	entry := x.(*timerEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}
