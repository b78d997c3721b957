package safeset

import (
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSafeSet(t *testing.T) {
	s := NewSafeSet[string]()
	require.NotNil(t, s)
	assert.Equal(t, 0, s.Size())
}

func TestSafeSet_Add_Contains_Remove(t *testing.T) {
	s := NewSafeSet[string]()

	s.Add("127.0.0.1:9000")
	s.Add("127.0.0.1:9000")
	assert.True(t, s.Contains("127.0.0.1:9000"))
	assert.Equal(t, 1, s.Size())

	s.Remove("127.0.0.1:9000")
	s.Remove("never-added")
	assert.False(t, s.Contains("127.0.0.1:9000"))
	assert.Equal(t, 0, s.Size())
}

func TestSafeSet_TryAdd(t *testing.T) {
	t.Run("first add wins", func(t *testing.T) {
		s := NewSafeSet[int]()
		assert.True(t, s.TryAdd(1))
		assert.False(t, s.TryAdd(1))
		assert.True(t, s.TryAdd(2))
		assert.Equal(t, 2, s.Size())
	})

	t.Run("exactly one concurrent caller wins", func(t *testing.T) {
		s := NewSafeSet[string]()
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if s.TryAdd("addr") {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}

func TestSafeSet_Values(t *testing.T) {
	s := NewSafeSet[int]()
	for _, v := range []int{3, 1, 2} {
		s.Add(v)
	}

	values := s.Values()
	sort.Ints(values)
	assert.Equal(t, []int{1, 2, 3}, values)
}
