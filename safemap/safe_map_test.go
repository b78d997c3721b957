package safemap

import (
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSafeMap(t *testing.T) {
	m := NewSafeMap[int, string]()
	require.NotNil(t, m)
	assert.Equal(t, 0, m.Len())
	assert.False(t, m.Has(1))
}

func TestSafeMap_Store_Get(t *testing.T) {
	m := NewSafeMap[int, string]()

	t.Run("store and get returns value", func(t *testing.T) {
		m.Store(1, "a")
		v, ok := m.Get(1)
		assert.True(t, ok)
		assert.Equal(t, "a", v)
	})

	t.Run("overwrite returns new value", func(t *testing.T) {
		m.Store(1, "b")
		v, ok := m.Get(1)
		assert.True(t, ok)
		assert.Equal(t, "b", v)
	})

	t.Run("missing key returns zero value and false", func(t *testing.T) {
		v, ok := m.Get(42)
		assert.False(t, ok)
		assert.Empty(t, v)
	})
}

func TestSafeMap_LoadOrStore(t *testing.T) {
	m := NewSafeMap[int, string]()

	t.Run("first claim stores", func(t *testing.T) {
		v, loaded := m.LoadOrStore(7, "first")
		assert.False(t, loaded)
		assert.Equal(t, "first", v)
	})

	t.Run("second claim keeps the original", func(t *testing.T) {
		v, loaded := m.LoadOrStore(7, "second")
		assert.True(t, loaded)
		assert.Equal(t, "first", v)
	})

	t.Run("only one concurrent claimant wins", func(t *testing.T) {
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, loaded := m.LoadOrStore(99, "x"); !loaded {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}

func TestSafeMap_Delete_Values(t *testing.T) {
	m := NewSafeMap[int, int]()
	m.Store(1, 10)
	m.Store(2, 20)
	m.Store(3, 30)

	m.Delete(2)
	m.Delete(100)

	values := m.Values()
	sort.Ints(values)
	assert.Equal(t, []int{10, 30}, values)
	assert.Equal(t, 2, m.Len())
	assert.False(t, m.Has(2))
}

func TestSafeMap_Range_stops(t *testing.T) {
	m := NewSafeMap[int, int]()
	for i := 0; i < 10; i++ {
		m.Store(i, i)
	}

	visited := 0
	m.Range(func(int, int) bool {
		visited++
		return visited < 3
	})
	assert.Equal(t, 3, visited)
}
