// Package ticks provides the lock-free counters and monotonic elapsed-time
// accumulators that the executor and clock use to measure themselves:
// atomic words, a tick timer, and a cumulative tick timer that can be
// started and stopped across multiple slices.
package ticks

import "sync/atomic"

// Word is a lock-free word around an integer-kinded value of at most 64
// bits: ints and durations; booleans use the separate Bool type. It
// exists so callers get acquire/release semantics without repeating
// atomic.Int64/atomic.Uint64 boilerplate for every counter type in the
// executor.
type Word[T ~int64 | ~uint64 | ~int32 | ~uint32 | ~int] struct {
	v atomic.Int64
}

// Load reads the current value.
func (w *Word[T]) Load() T { return T(w.v.Load()) }

// Store sets the current value.
func (w *Word[T]) Store(val T) { w.v.Store(int64(val)) }

// Add adds delta and returns the new value.
func (w *Word[T]) Add(delta T) T { return T(w.v.Add(int64(delta))) }

// Swap stores val and returns the previous value.
func (w *Word[T]) Swap(val T) T { return T(w.v.Swap(int64(val))) }

// CompareAndSwap performs a standard CAS.
func (w *Word[T]) CompareAndSwap(old, new T) bool {
	return w.v.CompareAndSwap(int64(old), int64(new))
}

// Bool is a lock-free boolean flag.
type Bool struct {
	v atomic.Bool
}

func (b *Bool) Load() bool       { return b.v.Load() }
func (b *Bool) Store(val bool)   { b.v.Store(val) }
func (b *Bool) Swap(val bool) bool {
	return b.v.Swap(val)
}
func (b *Bool) CompareAndSwap(old, new bool) bool {
	return b.v.CompareAndSwap(old, new)
}
