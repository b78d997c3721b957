// Package idgenerator allocates the sequence numbers that identify sessions.
// Sequences are uint32, strictly non-zero, and wrap around past the maximum
// value back to 1.
package idgenerator

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/cyberinferno/udpev/status"
)

// IdGenerator generates monotonically increasing, non-zero uint32 IDs. The
// starting value is set at construction and the first Id() returns
// startValue+1 (or 1 if that would be zero).
type IdGenerator struct {
	id atomic.Uint32
}

// NewIdGenerator creates an IdGenerator that will generate IDs starting from
// startValue+1.
//
// Parameters:
//   - startValue: The value to initialize the counter to
//
// Returns:
//   - A new IdGenerator instance
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next ID, skipping 0 when the counter wraps around.
//
// Returns:
//   - The next non-zero uint32 ID
func (l *IdGenerator) Id() uint32 {
	for {
		if v := l.id.Add(1); v != 0 {
			return v
		}
	}
}

// Next returns the next ID for which inUse reports false. IDs still held by a
// live owner are skipped, so a wrapped counter never hands out a duplicate.
//
// Parameters:
//   - live: How many IDs are currently owned
//   - inUse: Reports whether a candidate ID is still owned; nil means none are
//
// Returns:
//   - The allocated ID
//   - An error wrapping status.ErrResourceExhausted if every non-zero ID is in use
func (l *IdGenerator) Next(live int, inUse func(uint32) bool) (uint32, error) {
	if uint64(live) >= math.MaxUint32 {
		return 0, fmt.Errorf("all %d sequence numbers are live: %w", live, status.ErrResourceExhausted)
	}

	for {
		id := l.Id()
		if inUse == nil || !inUse(id) {
			return id, nil
		}
	}
}

// Current returns the last ID handed out, or the start value if none was.
func (l *IdGenerator) Current() uint32 {
	return l.id.Load()
}
