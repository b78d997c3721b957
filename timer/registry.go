// Package timer implements homogeneous session timers: every session of a
// Timer shares one fixed timeout, so insertion order is expiry order and the
// expiry sweep only ever looks at the oldest slots. Sessions are identified by
// process-unique sequence numbers held in the Registry's index, which is what
// lets Get and Del work without naming the timer.
//
// A Registry and its timers are not safe for concurrent use; they are meant to
// be driven from a single event loop goroutine.
package timer

import (
	"fmt"
	"time"

	"github.com/cyberinferno/udpev/idgenerator"
	"github.com/cyberinferno/udpev/logger"
	"github.com/cyberinferno/udpev/status"
)

// Observer is notified of session lifecycle events, keyed by timer name.
type Observer interface {
	SessionAdded(timer string)
	SessionDeleted(timer string)
	SessionExpired(timer string)
}

// indexEntry locates a live session: its timer and the absolute position of
// its slot in that timer's store.
type indexEntry struct {
	timer *Timer
	pos   int64
}

// Registry owns the sequence allocator, the global sequence index and every
// Timer created from it.
type Registry struct {
	now      func() time.Time
	log      logger.Logger
	observer Observer
	ids      *idgenerator.IdGenerator
	index    map[uint32]indexEntry
	timers   []*Timer
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now, mainly for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets where recovered callback panics are reported.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithObserver installs a lifecycle observer such as the metrics collector.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// WithStartSequence makes the first allocated sequence start+1.
func WithStartSequence(start uint32) Option {
	return func(r *Registry) { r.ids = idgenerator.NewIdGenerator(start) }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		now:   time.Now,
		log:   logger.NewNopLogger(),
		ids:   idgenerator.NewIdGenerator(0),
		index: make(map[uint32]indexEntry),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// NewTimer creates a Timer whose sessions are sessionSize bytes and expire
// timeout after they were added, calling onTimeout with the payload first.
//
// Parameters:
//   - timeout: Lifetime of every session of this timer; must be positive
//   - sessionSize: Payload size in bytes; may be zero
//   - onTimeout: Called on natural expiry, never on Del
//
// Returns:
//   - The new Timer
//   - An error wrapping status.ErrInvalidArgument for a bad parameter
func (r *Registry) NewTimer(timeout time.Duration, sessionSize int, onTimeout TimeoutFunc) (*Timer, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("timer timeout %s: %w", timeout, status.ErrInvalidArgument)
	}

	if sessionSize < 0 {
		return nil, fmt.Errorf("session size %d: %w", sessionSize, status.ErrInvalidArgument)
	}

	if onTimeout == nil {
		return nil, fmt.Errorf("nil timeout callback: %w", status.ErrInvalidArgument)
	}

	t := &Timer{
		reg:       r,
		name:      fmt.Sprintf("timer-%d", len(r.timers)+1),
		timeout:   timeout,
		size:      sessionSize,
		onTimeout: onTimeout,
		arena:     newArena(sessionSize),
	}
	r.timers = append(r.timers, t)

	return t, nil
}

// Get returns the payload of the live session seq.
//
// Returns:
//   - The payload, valid until the session is deleted or expires
//   - An error wrapping status.ErrNotFound if seq is not live
func (r *Registry) Get(seq uint32) ([]byte, error) {
	e, ok := r.index[seq]
	if !ok {
		return nil, fmt.Errorf("sequence %d: %w", seq, status.ErrNotFound)
	}

	s := e.timer.slotAt(e.pos)
	if s == nil || !s.live {
		return nil, fmt.Errorf("sequence %d: %w", seq, status.ErrNotFound)
	}

	return e.timer.arena.bytes(s.cell), nil
}

// Del deletes the session seq without invoking its timeout callback. Unknown
// or already removed sequences are ignored.
func (r *Registry) Del(seq uint32) {
	e, ok := r.index[seq]
	if !ok {
		return
	}

	if e.timer.free(e.pos) && r.observer != nil {
		r.observer.SessionDeleted(e.timer.name)
	}
}

// SequenceOf resolves a payload previously returned by Add or Get, or passed
// to a timeout callback, back to its sequence.
//
// Returns:
//   - The sequence of the live session owning payload
//   - An error wrapping status.ErrNotFound if no live session owns it
func (r *Registry) SequenceOf(payload []byte) (uint32, error) {
	for _, t := range r.timers {
		if _, seq, ok := t.arena.locate(payload); ok {
			return seq, nil
		}
	}

	return 0, fmt.Errorf("payload is not a live session: %w", status.ErrNotFound)
}

// WhichTimer resolves a payload back to the Timer that owns it.
//
// Returns:
//   - The owning Timer
//   - An error wrapping status.ErrNotFound if no live session owns payload
func (r *Registry) WhichTimer(payload []byte) (*Timer, error) {
	for _, t := range r.timers {
		if _, _, ok := t.arena.locate(payload); ok {
			return t, nil
		}
	}

	return nil, fmt.Errorf("payload is not a live session: %w", status.ErrNotFound)
}

// Expire sweeps every timer at now.
//
// Returns:
//   - The number of timeout callbacks invoked
func (r *Registry) Expire(now time.Time) int {
	n := 0
	for _, t := range r.timers {
		n += t.Expire(now)
	}

	return n
}

// NextDeadline returns the soonest expiry across all timers.
//
// Returns:
//   - The deadline and true, or the zero time and false if nothing is live
func (r *Registry) NextDeadline() (time.Time, bool) {
	var (
		next  time.Time
		found bool
	)

	for _, t := range r.timers {
		d, ok := t.NextDeadline()
		if ok && (!found || d.Before(next)) {
			next, found = d, true
		}
	}

	return next, found
}

// Len returns the number of live sessions across all timers.
func (r *Registry) Len() int {
	return len(r.index)
}

// Timers returns the timers in creation order.
func (r *Registry) Timers() []*Timer {
	return append([]*Timer(nil), r.timers...)
}

// Now returns the registry's current time.
func (r *Registry) Now() time.Time {
	return r.now()
}

func (r *Registry) allocate() (uint32, error) {
	return r.ids.Next(len(r.index), func(seq uint32) bool {
		_, live := r.index[seq]
		return live
	})
}
