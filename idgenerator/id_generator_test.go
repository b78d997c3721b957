package idgenerator

import (
	"math"
	"sync"
	"testing"

	"github.com/cyberinferno/udpev/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdGenerator(t *testing.T) {
	t.Run("returns non-nil generator", func(t *testing.T) {
		gen := NewIdGenerator(0)
		require.NotNil(t, gen)
	})

	t.Run("first Id returns startValue+1", func(t *testing.T) {
		gen := NewIdGenerator(100)
		assert.Equal(t, uint32(101), gen.Id())
	})

	t.Run("first Id skips zero when starting at max uint32", func(t *testing.T) {
		gen := NewIdGenerator(math.MaxUint32)
		assert.Equal(t, uint32(1), gen.Id())
	})
}

func TestIdGenerator_Id_wraparound(t *testing.T) {
	gen := NewIdGenerator(math.MaxUint32 - 2)

	got := []uint32{gen.Id(), gen.Id(), gen.Id(), gen.Id()}
	assert.Equal(t, []uint32{math.MaxUint32 - 1, math.MaxUint32, 1, 2}, got)
	for _, id := range got {
		assert.NotZero(t, id)
	}
}

func TestIdGenerator_Id_sequential(t *testing.T) {
	t.Run("ids are monotonic starting from 1", func(t *testing.T) {
		gen := NewIdGenerator(0)
		for want := uint32(1); want <= 10; want++ {
			assert.Equal(t, want, gen.Id())
		}
		assert.Equal(t, uint32(10), gen.Current())
	})

	t.Run("no duplicate ids in sequence", func(t *testing.T) {
		gen := NewIdGenerator(0)
		seen := make(map[uint32]bool)
		for i := 0; i < 1000; i++ {
			id := gen.Id()
			assert.False(t, seen[id], "duplicate id %d", id)
			seen[id] = true
		}
	})
}

func TestIdGenerator_Next(t *testing.T) {
	t.Run("nil predicate behaves like Id", func(t *testing.T) {
		gen := NewIdGenerator(0)
		id, err := gen.Next(0, nil)
		require.NoError(t, err)
		assert.Equal(t, uint32(1), id)
	})

	t.Run("skips ids still in use after wraparound", func(t *testing.T) {
		gen := NewIdGenerator(math.MaxUint32)
		live := map[uint32]bool{1: true, 2: true}

		id, err := gen.Next(len(live), func(v uint32) bool { return live[v] })
		require.NoError(t, err)
		assert.Equal(t, uint32(3), id)
	})

	t.Run("fails loudly when nothing is free", func(t *testing.T) {
		gen := NewIdGenerator(0)
		called := false
		_, err := gen.Next(math.MaxUint32, func(uint32) bool {
			called = true
			return true
		})
		require.ErrorIs(t, err, status.ErrResourceExhausted)
		assert.False(t, called)
		assert.Equal(t, uint32(0), gen.Current(), "counter must not advance")
	})
}

func TestIdGenerator_Id_concurrent(t *testing.T) {
	gen := NewIdGenerator(0)
	const n = 500
	ids := make([]uint32, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			ids[idx] = gen.Id()
		}(i)
	}
	wg.Wait()

	seen := make(map[uint32]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}
