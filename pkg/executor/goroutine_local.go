package executor

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// goroutineID parses the calling goroutine's own stack trace header to
// obtain a stable per-goroutine id. The executors keep a work queue,
// recursion depth, and idle counter per worker goroutine; Go has no
// per-goroutine storage primitive, so each worker's state is instead held
// in a map owned by each executor instance, keyed by this id. Only the owning goroutine ever
// reads or writes its own entry, so no locking is needed around the
// entry's fields — only around the map.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]

	const prefix = "goroutine "
	if i := bytes.Index(b, []byte(prefix)); i >= 0 {
		b = b[i+len(prefix):]
	}
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return -1
	}
	return id
}

// goroutineLocal is a minimal thread_local analogue: a map from goroutine
// id to a *T, used only by the owning goroutine after creation.
type goroutineLocal[T any] struct {
	mu sync.Mutex
	m  map[int64]*T
}

func newGoroutineLocal[T any]() *goroutineLocal[T] {
	return &goroutineLocal[T]{m: make(map[int64]*T)}
}

func (g *goroutineLocal[T]) get() (*T, bool) {
	id := goroutineID()
	g.mu.Lock()
	v, ok := g.m[id]
	g.mu.Unlock()
	return v, ok
}

func (g *goroutineLocal[T]) set(v *T) {
	id := goroutineID()
	g.mu.Lock()
	g.m[id] = v
	g.mu.Unlock()
}

func (g *goroutineLocal[T]) delete() {
	id := goroutineID()
	g.mu.Lock()
	delete(g.m, id)
	g.mu.Unlock()
}
