package timer

import (
	"fmt"
	"time"

	"github.com/cyberinferno/udpev/logger"
	"github.com/cyberinferno/udpev/recovery"
	"github.com/cyberinferno/udpev/status"
)

// compactThreshold is the swept-prefix length below which the store is not
// compacted unless it is entirely swept.
const compactThreshold = 64

// TimeoutFunc is called with the payload of a session that reached its
// deadline. The payload is still resolvable through Registry.SequenceOf and
// WhichTimer during the call.
type TimeoutFunc func(payload []byte)

// slot is one entry of the session store. seq is 0 once the slot is freed.
type slot struct {
	seq   uint32
	added time.Time
	cell  cellRef
	live  bool
}

// Timer holds sessions that all share one timeout. Slots are appended in
// insertion order; Del leaves a tombstone in place and the sweep skips it.
// slots[head:] is the unswept region and base is the absolute position of
// slots[0], so index entries survive compaction unchanged.
type Timer struct {
	reg       *Registry
	name      string
	timeout   time.Duration
	size      int
	onTimeout TimeoutFunc

	slots   []slot
	head    int
	base    int64
	live    int
	visited uint64

	arena arena
}

// Add creates a session. initial is copied into the payload and zero padded;
// nil gives a zero-filled payload.
//
// Parameters:
//   - initial: Optional initial payload, at most SessionSize bytes
//
// Returns:
//   - The payload, valid until the session is deleted or expires
//   - The non-zero sequence identifying the session
//   - An error wrapping status.ErrInvalidArgument if initial is too long, or
//     status.ErrResourceExhausted if no sequence is free
func (t *Timer) Add(initial []byte) ([]byte, uint32, error) {
	if len(initial) > t.size {
		return nil, 0, fmt.Errorf("initial payload of %d bytes exceeds session size %d: %w",
			len(initial), t.size, status.ErrInvalidArgument)
	}

	r := t.reg
	seq, err := r.allocate()
	if err != nil {
		return nil, 0, err
	}

	cell := t.arena.alloc(seq)
	payload := t.arena.bytes(cell)
	clear(payload)
	copy(payload, initial)

	pos := t.base + int64(len(t.slots))
	t.slots = append(t.slots, slot{seq: seq, added: r.now(), cell: cell, live: true})
	r.index[seq] = indexEntry{timer: t, pos: pos}
	t.live++

	if r.observer != nil {
		r.observer.SessionAdded(t.name)
	}

	return payload, seq, nil
}

// Count returns the number of live sessions.
func (t *Timer) Count() int {
	return t.live
}

// Name returns the timer's label, "timer-N" in creation order.
func (t *Timer) Name() string {
	return t.name
}

// Timeout returns the lifetime shared by all sessions of this timer.
func (t *Timer) Timeout() time.Duration {
	return t.timeout
}

// SessionSize returns the payload size in bytes.
func (t *Timer) SessionSize() int {
	return t.size
}

// Expire runs the timeout callback for, and frees, every live session whose
// deadline is at or before now, oldest first. Tombstones at the head are
// skipped without a callback. It stops at the first live session not yet due.
//
// Returns:
//   - The number of timeout callbacks invoked
func (t *Timer) Expire(now time.Time) int {
	expired := 0
	for t.head < len(t.slots) {
		t.visited++
		s := t.slots[t.head]
		if !s.live {
			t.head++
			continue
		}

		if now.Before(s.added.Add(t.timeout)) {
			break
		}

		pos := t.base + int64(t.head)
		t.head++
		expired++

		payload := t.arena.bytes(s.cell)
		recovery.Guard(t.reg.log, "timeout", func() { t.onTimeout(payload) },
			logger.Field{Key: "timer", Value: t.name},
			logger.Field{Key: "sequence", Value: s.seq})

		// The callback may already have deleted the session itself.
		if t.free(pos) && t.reg.observer != nil {
			t.reg.observer.SessionExpired(t.name)
		}
	}

	t.compact()
	return expired
}

// NextDeadline returns when the oldest live session expires.
//
// Returns:
//   - The deadline and true, or the zero time and false if nothing is live
func (t *Timer) NextDeadline() (time.Time, bool) {
	for t.head < len(t.slots) && !t.slots[t.head].live {
		t.head++
	}

	if t.head == len(t.slots) {
		return time.Time{}, false
	}

	return t.slots[t.head].added.Add(t.timeout), true
}

func (t *Timer) slotAt(pos int64) *slot {
	i := pos - t.base
	if i < 0 || i >= int64(len(t.slots)) {
		return nil
	}

	return &t.slots[i]
}

// free turns the slot at pos into a tombstone and drops its index entry.
//
// Returns:
//   - false if the slot was already free
func (t *Timer) free(pos int64) bool {
	s := t.slotAt(pos)
	if s == nil || !s.live {
		return false
	}

	delete(t.reg.index, s.seq)
	t.arena.release(s.cell)
	s.live = false
	s.seq = 0
	t.live--
	return true
}

// compact drops the swept prefix once it is at least half of the store, and
// shrinks the backing array when it is mostly empty.
func (t *Timer) compact() {
	if t.head == 0 {
		return
	}

	if t.head < len(t.slots) && (t.head < compactThreshold || t.head*2 < len(t.slots)) {
		return
	}

	n := copy(t.slots, t.slots[t.head:])
	clear(t.slots[n:])
	t.slots = t.slots[:n]
	t.base += int64(t.head)
	t.head = 0

	if c := cap(t.slots); c > 1024 && n < c/4 {
		t.slots = append(make([]slot, 0, max(n*2, compactThreshold)), t.slots...)
	}
}
