// Package entrypoint implements the admission-controlled entry point that
// owns the live set of sessions: it enforces max_connections, starts each
// session's state machine, and drains them on shutdown.
package entrypoint

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/noisefs-labs/execcore/pkg/session"
)

// ErrTooManyConnections is returned by StartSession when admission would
// exceed MaxConnections; the caller should close the underlying socket
// without responding.
var ErrTooManyConnections = errors.New("entrypoint: too many connections")

// Logger is the minimal logging surface the entry point needs for its
// connection accept/refuse/end lines.
type Logger interface {
	Infof(format string, args ...any)
}

// AuditSink receives session lifecycle events as they happen, for
// recording to a durable store (see pkg/audit). Optional: an EntryPoint
// with no sink attached just skips these calls.
type AuditSink interface {
	SessionCreated(sessionID uint64)
	SessionRejected(attemptedConnections int64)
	SessionEnded(sessionID uint64, tags session.TagMask, duration time.Duration)
}

// EntryPoint is the single owner of the live session list. Construct a
// session's CleanupHook with CleanupHook() *before* calling session.New, so
// the session removes itself from this list on its terminating
// transition.
type EntryPoint struct {
	maxConnections int64

	sessionsMu sync.Mutex
	sessions   map[uint64]*session.Session
	startedAt  map[uint64]time.Time

	currentConnections atomic.Int64
	createdConnections atomic.Int64

	logger Logger
	audit  AuditSink
}

// New constructs an EntryPoint with the given admission cap.
// maxConnections should already reflect the rlimit clamp (see ClampMaxConnections).
func New(maxConnections int, logger Logger) *EntryPoint {
	return &EntryPoint{
		maxConnections: int64(maxConnections),
		sessions:       make(map[uint64]*session.Session),
		startedAt:      make(map[uint64]time.Time),
		logger:         logger,
	}
}

// WithAuditSink attaches sink, which receives a call on every session
// admission, rejection, and termination from then on. Returns e for
// chaining at construction time.
func (e *EntryPoint) WithAuditSink(sink AuditSink) *EntryPoint {
	e.audit = sink
	return e
}

// CurrentConnections returns the live session count.
func (e *EntryPoint) CurrentConnections() int64 { return e.currentConnections.Load() }

// CreatedConnections returns the monotonic count of sessions ever
// admitted (not decremented on session end).
func (e *EntryPoint) CreatedConnections() int64 { return e.createdConnections.Load() }

// CleanupHook returns a session.CleanupHook bound to this entry point. Pass
// its result to session.New so the session removes itself from the entry
// point's list, under sessionsMu, on its terminating transition — before
// any caller-supplied cleanup logic runs, so the entry point's bookkeeping
// is always consistent by the time user cleanup observes it.
func (e *EntryPoint) CleanupHook() session.CleanupHook {
	return func(sess *session.Session) {
		e.sessionsMu.Lock()
		delete(e.sessions, sess.ID())
		started, ok := e.startedAt[sess.ID()]
		delete(e.startedAt, sess.ID())
		n := int64(len(e.sessions))
		e.currentConnections.Store(n)
		e.sessionsMu.Unlock()

		if e.logger != nil {
			e.logger.Infof("end connection #%d (%d connections now open)", sess.ID(), n)
		}
		if e.audit != nil {
			var duration time.Duration
			if ok {
				duration = time.Since(started)
			}
			e.audit.SessionEnded(sess.ID(), sess.Tags(), duration)
		}
	}
}

// StartSession admits sess if under the connection cap and starts it.
// sess must already have been constructed with this entry point's
// CleanupHook.
func (e *EntryPoint) StartSession(sess *session.Session) error {
	e.sessionsMu.Lock()
	n := int64(len(e.sessions)) + 1
	if n > e.maxConnections {
		e.sessionsMu.Unlock()
		if e.logger != nil {
			e.logger.Infof("connection refused because too many open connections: %d", n)
		}
		if e.audit != nil {
			e.audit.SessionRejected(n)
		}
		return ErrTooManyConnections
	}
	e.sessions[sess.ID()] = sess
	e.startedAt[sess.ID()] = time.Now()
	e.currentConnections.Store(n)
	e.createdConnections.Add(1)
	e.sessionsMu.Unlock()

	if e.logger != nil {
		e.logger.Infof("connection accepted #%d (%d connections now open)", sess.ID(), n)
	}
	if e.audit != nil {
		e.audit.SessionCreated(sess.ID())
	}

	return sess.Start()
}

// EndAllSessions terminates every live session whose tags don't intersect
// tagMask (used to spare administrative connections during shutdown).
func (e *EntryPoint) EndAllSessions(tagMask session.TagMask) {
	e.sessionsMu.Lock()
	live := make([]*session.Session, 0, len(e.sessions))
	for _, sess := range e.sessions {
		live = append(live, sess)
	}
	e.sessionsMu.Unlock()

	for _, sess := range live {
		if sess.Tags()&tagMask == 0 {
			sess.End()
		}
	}
}

// Shutdown requests all sessions terminate, then waits up to timeout for
// CurrentConnections to reach zero, polling at most every 250ms and
// logging progress.
func (e *EntryPoint) Shutdown(timeout time.Duration) bool {
	e.EndAllSessions(session.EmptyTagMask)

	if e.CurrentConnections() == 0 {
		return true
	}

	deadline := time.Now().Add(timeout)
	checkInterval := 250 * time.Millisecond
	if timeout < checkInterval {
		checkInterval = timeout
	}
	if checkInterval <= 0 {
		checkInterval = time.Millisecond
	}

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for range ticker.C {
		if e.CurrentConnections() == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		if e.logger != nil {
			e.logger.Infof("shutdown: still waiting on %d active sessions to drain", e.CurrentConnections())
		}
	}
	return false
}
