package storage

import (
	"fmt"
	"testing"

	"github.com/VoolFI71/pollkv/internal/hashmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	t.Run("new store is empty", func(t *testing.T) {
		st := New()
		_, ok := st.Get([]byte("missing"))
		assert.False(t, ok)
		assert.Equal(t, 0, st.Len())
		assert.False(t, st.Del([]byte("missing")))
	})

	t.Run("set copies its arguments", func(t *testing.T) {
		st := New()
		key, value := []byte("k"), []byte("v1")
		st.Set(key, value)
		key[0], value[0] = 'x', 'x'

		got, ok := st.Get([]byte("k"))
		require.True(t, ok)
		assert.Equal(t, []byte("v1"), got)
	})

	t.Run("overwrite keeps one entry", func(t *testing.T) {
		st := New()
		st.Set([]byte("k"), []byte("v1"))
		st.Set([]byte("k"), []byte("v2"))
		got, ok := st.Get([]byte("k"))
		require.True(t, ok)
		assert.Equal(t, []byte("v2"), got)
		assert.Equal(t, 1, st.Len())
	})

	t.Run("empty key and value", func(t *testing.T) {
		st := New()
		st.Set([]byte{}, []byte{})
		got, ok := st.Get(nil)
		require.True(t, ok)
		assert.Empty(t, got)
		assert.True(t, st.Del([]byte{}))
	})

	t.Run("keys across a resize", func(t *testing.T) {
		st := New(hashmap.WithStepBudget(1), hashmap.WithHasher(hashmap.XXHash))
		want := map[string]bool{}
		for i := 0; i < 500; i++ {
			k := fmt.Sprintf("key%d", i)
			st.Set([]byte(k), []byte("v"))
			want[k] = true
		}
		require.True(t, st.Stats().SecondaryLen > 0 || st.Stats().Resizes > 0)

		got := map[string]bool{}
		st.Keys(func(key []byte) bool {
			got[string(key)] = true
			return true
		})
		assert.Equal(t, want, got)
		assert.Equal(t, len(want), st.Len())

		seen := 0
		st.Keys(func([]byte) bool {
			seen++
			return seen < 3
		})
		assert.Equal(t, 3, seen)
	})

	t.Run("independent instances", func(t *testing.T) {
		a, b := New(), New()
		a.Set([]byte("k"), []byte("a"))
		_, ok := b.Get([]byte("k"))
		assert.False(t, ok)
	})

	t.Run("close drops everything", func(t *testing.T) {
		st := New()
		st.Set([]byte("k"), []byte("v"))
		st.Close()
		assert.Equal(t, 0, st.Len())
		_, ok := st.Get([]byte("k"))
		assert.False(t, ok)
	})
}
