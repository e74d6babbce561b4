package safemap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	name string
}

func TestSafeMap_basics(t *testing.T) {
	t.Run("new map is empty", func(t *testing.T) {
		m := NewSafeMap[uint32, *entry]()
		require.NotNil(t, m)
		assert.Equal(t, 0, m.Len())

		v, ok := m.Load(1)
		assert.False(t, ok)
		assert.Nil(t, v)
	})

	t.Run("store replaces and load returns the latest value", func(t *testing.T) {
		m := NewSafeMap[string, int]()
		m.Store("a", 1)
		m.Store("a", 2)

		v, ok := m.Load("a")
		assert.True(t, ok)
		assert.Equal(t, 2, v)
		assert.True(t, m.Has("a"))
		assert.False(t, m.Has("b"))
	})

	t.Run("delete removes only the given key", func(t *testing.T) {
		m := NewSafeMap[string, int]()
		m.Store("a", 1)
		m.Store("b", 2)

		m.Delete("a")
		m.Delete("missing")

		assert.False(t, m.Has("a"))
		assert.Equal(t, 1, m.Len())
	})
}

func TestSafeMap_LoadOrStore(t *testing.T) {
	m := NewSafeMap[uint32, *entry]()
	first := &entry{name: "first"}

	got, loaded := m.LoadOrStore(7, first)
	assert.False(t, loaded)
	assert.Same(t, first, got)

	got, loaded = m.LoadOrStore(7, &entry{name: "second"})
	assert.True(t, loaded)
	assert.Same(t, first, got, "existing value is kept")
	assert.Equal(t, 1, m.Len())
}

func TestSafeMap_LoadAndDelete(t *testing.T) {
	m := NewSafeMap[uint32, *entry]()
	e := &entry{name: "x"}
	m.Store(3, e)

	got, loaded := m.LoadAndDelete(3)
	assert.True(t, loaded)
	assert.Same(t, e, got)

	got, loaded = m.LoadAndDelete(3)
	assert.False(t, loaded)
	assert.Nil(t, got)
}

func TestSafeMap_Range(t *testing.T) {
	m := NewSafeMap[string, int]()
	m.Store("a", 1)
	m.Store("b", 2)
	m.Store("c", 3)

	t.Run("visits every entry", func(t *testing.T) {
		seen := make(map[string]int)
		m.Range(func(k string, v int) bool {
			seen[k] = v
			return true
		})
		assert.Equal(t, map[string]int{"a": 1, "b": 2, "c": 3}, seen)
	})

	t.Run("stops when f returns false", func(t *testing.T) {
		calls := 0
		m.Range(func(string, int) bool {
			calls++
			return calls < 2
		})
		assert.Equal(t, 2, calls)
	})
}

func TestSafeMap_concurrent(t *testing.T) {
	m := NewSafeMap[int, int]()
	const goroutines = 50
	const perGoroutine = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				key := base*perGoroutine + i
				m.LoadOrStore(key, key)
				m.Load(key)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, goroutines*perGoroutine, m.Len())

	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				m.LoadAndDelete(base*perGoroutine + i)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 0, m.Len())
}
