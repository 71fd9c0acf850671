// Package storage holds the key space served by the dispatcher.
package storage

import (
	"github.com/VoolFI71/pollkv/internal/hashmap"
)

// Store owns every key/value entry. It is not safe for concurrent use; the
// event loop is its only caller.
type Store struct {
	data *hashmap.Map[[]byte]
}

func New(opts ...hashmap.Option) *Store {
	return &Store{data: hashmap.New[[]byte](opts...)}
}

func (s *Store) Get(key []byte) ([]byte, bool) {
	e := s.data.Lookup(key)
	if e == nil {
		return nil, false
	}
	return e.Value, true
}

// Set stores copies of key and value. An existing entry is updated in place.
func (s *Store) Set(key, value []byte) {
	if e := s.data.Lookup(key); e != nil {
		e.Value = append([]byte{}, value...)
		return
	}
	k := append([]byte{}, key...)
	v := append([]byte{}, value...)
	s.data.Insert(s.data.NewEntry(k, v))
}

// Del removes key and reports whether it was present.
func (s *Store) Del(key []byte) bool {
	return s.data.Pop(key) != nil
}

// Keys calls fn for every live key in bucket order until fn returns false.
func (s *Store) Keys(fn func(key []byte) bool) {
	s.data.Scan(func(e *hashmap.Entry[[]byte]) bool {
		return fn(e.Key)
	})
}

func (s *Store) Len() int {
	return s.data.Len()
}

func (s *Store) Stats() hashmap.Stats {
	return s.data.Stats()
}

// Close drops the bucket arrays. Entries become garbage with them.
func (s *Store) Close() {
	s.data.Destroy()
}
