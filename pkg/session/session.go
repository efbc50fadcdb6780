// Package session implements the session state machine (SSM): the
// per-connection sequence of Source → Process → Sink steps that drives one
// client's requests through the executor, plus the tag bitmask and
// metadata-decoration hook carried on every Session.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/noisefs-labs/execcore/pkg/executor"
)

// State is one node of the session state machine.
type State int

const (
	Created State = iota
	Source
	SourceWait
	Process
	ExhaustMessage
	SinkWait
	Ended
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Source:
		return "source"
	case SourceWait:
		return "sourceWait"
	case Process:
		return "process"
	case ExhaustMessage:
		return "exhaustMessage"
	case SinkWait:
		return "sinkWait"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Ownership describes who may run the next step of an SSM.
type Ownership int

const (
	// Owned means ownership is released between transitions: the next
	// step may run on any pool worker (asynchronous transport mode).
	Owned Ownership = iota
	// Static pins the SSM to the worker goroutine that started it
	// (synchronous transport mode): every transition runs there.
	Static
	// Unowned marks an SSM that has been fully released and is not
	// currently being driven by any worker. New assigns only Owned or
	// Static; nothing in this package sets Unowned.
	Unowned
)

// TagMask is a bitfield of connection tags, used to spare categories of
// sessions from bulk termination.
type TagMask uint32

const (
	EmptyTagMask                   TagMask = 0
	KeepOpen                       TagMask = 1 << 0
	InternalClient                 TagMask = 1 << 1
	LatestVersionInternalKeepOpen  TagMask = 1 << 2
	ExternalClientKeepOpen         TagMask = 1 << 3
	// Pending marks a newly created session that has not yet had its
	// tags explicitly set; any tag mutation clears it.
	Pending TagMask = 1 << 31
)

// SourceFn reads the next message for this session; ProcessFn handles a
// received message and decides the next state; SinkFn writes a reply.
// These are supplied by the host (wire/transport layer), not by this
// package — the SSM only sequences calls to them through the executor.
type SourceFn func() (msg any, exhaust bool, err error)
type ProcessFn func(msg any) (reply any, nextIsExhaust bool, err error)
type SinkFn func(reply any) error

// CleanupHook is invoked exactly once, on the SSM's terminating
// transition. The entry point's hook (EntryPoint.CleanupHook) is what
// removes the session from the entry point's session list.
type CleanupHook func(s *Session)

// Decoration is a typed slot for per-session metadata supplied by callers
// outside this package (an auth layer, a rate limiter): the session
// carries the data without knowing its type.
type Decoration[T any] struct {
	key *int
}

// NewDecoration allocates a new decoration slot. Each call returns a
// distinct slot, even for the same T, matching Decorable's per-declaration
// identity.
func NewDecoration[T any]() Decoration[T] {
	return Decoration[T]{key: new(int)}
}

// Get returns the decoration's value on s, or the zero value if never set.
func (d Decoration[T]) Get(s *Session) T {
	v, _ := s.decoration(d.key).(T)
	return v
}

// Set stores the decoration's value on s.
func (d Decoration[T]) Set(s *Session, v T) {
	s.setDecoration(d.key, v)
}

// Session is one client connection's state machine instance.
type Session struct {
	id        uint64
	exec      executor.Executor
	ownership Ownership

	source  SourceFn
	process ProcessFn
	sink    SinkFn
	cleanup CleanupHook

	stateMu sync.Mutex
	state   State

	tags atomic.Uint32

	decorMu sync.Mutex
	decor   map[*int]any

	cleanupOnce sync.Once
}

// New constructs a Session in state Created. The cleanup hook is supplied
// by the entry point at construction time, and the ownership mode follows
// the executor's transport mode.
func New(id uint64, exec executor.Executor, source SourceFn, process ProcessFn, sink SinkFn, cleanup CleanupHook) *Session {
	ownership := Owned
	if exec.TransportMode() == executor.SynchronousMode {
		ownership = Static
	}

	s := &Session{
		id:        id,
		exec:      exec,
		ownership: ownership,
		source:    source,
		process:   process,
		sink:      sink,
		cleanup:   cleanup,
		state:     Created,
		decor:     make(map[*int]any),
	}
	s.tags.Store(uint32(Pending))
	return s
}

// ID returns the session's identifier.
func (s *Session) ID() uint64 { return s.id }

// State returns the session's current state.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Tags returns the current tag mask.
func (s *Session) Tags() TagMask { return TagMask(s.tags.Load()) }

// SetTags atomically ORs in toSet, clearing Pending in the same operation
// so a concurrent reader never observes a tag set still marked Pending.
func (s *Session) SetTags(toSet TagMask) {
	for {
		old := s.tags.Load()
		next := (old | uint32(toSet)) &^ uint32(Pending)
		if s.tags.CompareAndSwap(old, next) {
			return
		}
	}
}

// UnsetTags atomically clears toUnset, also clearing Pending.
func (s *Session) UnsetTags(toUnset TagMask) {
	for {
		old := s.tags.Load()
		next := (old &^ uint32(toUnset)) &^ uint32(Pending)
		if s.tags.CompareAndSwap(old, next) {
			return
		}
	}
}

func (s *Session) decoration(key *int) any {
	s.decorMu.Lock()
	defer s.decorMu.Unlock()
	return s.decor[key]
}

func (s *Session) setDecoration(key *int, v any) {
	s.decorMu.Lock()
	defer s.decorMu.Unlock()
	s.decor[key] = v
}

// Start transitions Created → Source and schedules (or, in synchronous
// transport mode, directly runs) the first step.
func (s *Session) Start() error {
	s.setState(Source)
	if s.ownership == Static {
		s.runSourceStep()
		return nil
	}
	return s.exec.Schedule(s.runSourceStep, executor.None, executor.StartSession)
}

func (s *Session) setState(next State) {
	s.stateMu.Lock()
	s.state = next
	s.stateMu.Unlock()
}

// runSourceStep implements the Source state: source a message, end the
// session on a source error, otherwise move to Process (or ExhaustMessage
// when the source sets the exhaust flag) and run the process step inline.
// It never enters SourceWait; that state is entered only through
// EnterSourceWait and left through ResumeFromSourceWait, both called by
// the host.
func (s *Session) runSourceStep() {
	msg, exhaust, err := s.source()
	if err != nil {
		s.end()
		return
	}

	if exhaust {
		s.setState(ExhaustMessage)
	} else {
		s.setState(Process)
	}
	s.runProcessStep(msg)
}

// ResumeFromSourceWait re-enters the Source state after an async readiness
// notification: the SourceWait → Source transition.
func (s *Session) ResumeFromSourceWait() error {
	s.setState(Source)
	flags := executor.MayRecurse
	return s.exec.Schedule(s.runSourceStep, flags, executor.SourceMessage)
}

// EnterSourceWait transitions Source → SourceWait: the session is waiting
// on I/O readiness and is not currently scheduled on any worker.
func (s *Session) EnterSourceWait() {
	s.setState(SourceWait)
}

func (s *Session) runProcessStep(msg any) {
	reply, nextIsExhaust, err := s.process(msg)
	if err != nil {
		s.end()
		return
	}

	if nextIsExhaust {
		s.setState(ExhaustMessage)
		flags := executor.MayRecurse
		if err := s.exec.Schedule(func() { s.runProcessStep(reply) }, flags, executor.ExhaustMessage); err != nil {
			s.end()
		}
		return
	}

	s.setState(SinkWait)
	flags := executor.MayYieldBeforeSchedule
	if err := s.exec.Schedule(func() { s.runSinkStep(reply) }, flags, executor.ProcessMessage); err != nil {
		s.end()
	}
}

func (s *Session) runSinkStep(reply any) {
	if err := s.sink(reply); err != nil {
		s.end()
		return
	}
	s.setState(Source)
	if s.ownership == Static {
		s.runSourceStep()
		return
	}
	if err := s.exec.Schedule(s.runSourceStep, executor.MayRecurse, executor.SourceMessage); err != nil {
		s.end()
	}
}

// End requests the session terminate: any in-flight step completes, the
// cleanup hook runs exactly once, and the session moves to Ended. Safe to
// call multiple times or concurrently.
func (s *Session) End() { s.end() }

func (s *Session) end() {
	s.cleanupOnce.Do(func() {
		s.setState(Ended)
		if s.cleanup != nil {
			s.cleanup(s)
		}
	})
}
