// Package hashmap implements a chained hash table that resizes incrementally.
//
// A resize never rehashes the whole table at once. The old bucket array is
// kept as a secondary generation and every Lookup, Insert and Pop moves a
// bounded amount of it into the new primary array, so no single call pays for
// the full rehash.
package hashmap

import "bytes"

const (
	DefaultStepBudget    = 128
	DefaultMaxLoadFactor = 8
	DefaultMinCapacity   = 4
)

// Entry is a key/value pair linked into exactly one bucket chain.
type Entry[V any] struct {
	next  *Entry[V]
	hcode uint64
	Key   []byte
	Value V
}

// Hash returns the cached hash code of the entry key.
func (e *Entry[V]) Hash() uint64 {
	return e.hcode
}

type table[V any] struct {
	buckets []*Entry[V]
	mask    uint64
	size    int
}

func newTable[V any](n int) table[V] {
	if n <= 0 || n&(n-1) != 0 {
		panic("hashmap: capacity must be a power of two")
	}
	return table[V]{
		buckets: make([]*Entry[V], n),
		mask:    uint64(n - 1),
	}
}

func (t *table[V]) capacity() int {
	return len(t.buckets)
}

func (t *table[V]) insert(e *Entry[V]) {
	pos := e.hcode & t.mask
	e.next = t.buckets[pos]
	t.buckets[pos] = e
	t.size++
}

// lookup returns the slot pointing at the matching entry, so the caller can
// detach it without walking the chain again.
func (t *table[V]) lookup(key []byte, hcode uint64) **Entry[V] {
	if t.buckets == nil {
		return nil
	}
	from := &t.buckets[hcode&t.mask]
	for cur := *from; cur != nil; cur = *from {
		if cur.hcode == hcode && bytes.Equal(cur.Key, key) {
			return from
		}
		from = &cur.next
	}
	return nil
}

func (t *table[V]) detach(from **Entry[V]) *Entry[V] {
	e := *from
	*from = e.next
	e.next = nil
	t.size--
	return e
}

func (t *table[V]) scan(fn func(e *Entry[V]) bool) bool {
	if t.size == 0 {
		return true
	}
	for _, e := range t.buckets {
		for ; e != nil; e = e.next {
			if !fn(e) {
				return false
			}
		}
	}
	return true
}

// Map is a hash map with two generations: primary receives new entries, and
// secondary holds what is left of the previous primary while a resize is in
// flight.
type Map[V any] struct {
	primary   table[V]
	secondary table[V]
	cursor    int

	hash          Hasher
	stepBudget    int
	maxLoadFactor int
	minCapacity   int

	resizes uint64
}

// Option configures a Map.
type Option func(*options)

type options struct {
	hash          Hasher
	stepBudget    int
	maxLoadFactor int
	minCapacity   int
}

// WithHasher replaces the default FNVHash.
func WithHasher(h Hasher) Option {
	return func(o *options) {
		if h != nil {
			o.hash = h
		}
	}
}

// WithStepBudget sets how many units of migration work each call performs.
func WithStepBudget(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.stepBudget = n
		}
	}
}

// WithMaxLoadFactor sets the load factor that starts a resize.
func WithMaxLoadFactor(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLoadFactor = n
		}
	}
}

// WithMinCapacity sets the bucket count allocated on first insert. It is
// rounded up to a power of two.
func WithMinCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			c := 1
			for c < n {
				c <<= 1
			}
			o.minCapacity = c
		}
	}
}

func New[V any](opts ...Option) *Map[V] {
	o := options{
		hash:          FNVHash,
		stepBudget:    DefaultStepBudget,
		maxLoadFactor: DefaultMaxLoadFactor,
		minCapacity:   DefaultMinCapacity,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Map[V]{
		hash:          o.hash,
		stepBudget:    o.stepBudget,
		maxLoadFactor: o.maxLoadFactor,
		minCapacity:   o.minCapacity,
	}
}

// NewEntry builds an entry for key with its hash code computed once.
func (m *Map[V]) NewEntry(key []byte, value V) *Entry[V] {
	return &Entry[V]{hcode: m.hash(key), Key: key, Value: value}
}

// Lookup returns the entry stored under key, or nil.
func (m *Map[V]) Lookup(key []byte) *Entry[V] {
	m.migrate()
	hcode := m.hash(key)
	if from := m.primary.lookup(key, hcode); from != nil {
		return *from
	}
	if from := m.secondary.lookup(key, hcode); from != nil {
		return *from
	}
	return nil
}

// Insert links e into the primary table. The caller guarantees no entry with
// the same key is present.
func (m *Map[V]) Insert(e *Entry[V]) {
	m.migrate()
	if m.primary.buckets == nil {
		m.primary = newTable[V](m.minCapacity)
	}
	m.primary.insert(e)

	if m.secondary.buckets == nil && m.primary.size >= m.maxLoadFactor*m.primary.capacity() {
		m.startResize()
	}
}

// Pop unlinks and returns the entry stored under key, or nil.
func (m *Map[V]) Pop(key []byte) *Entry[V] {
	m.migrate()
	hcode := m.hash(key)
	if from := m.primary.lookup(key, hcode); from != nil {
		return m.primary.detach(from)
	}
	if from := m.secondary.lookup(key, hcode); from != nil {
		return m.secondary.detach(from)
	}
	return nil
}

// Len returns the number of entries in both generations.
func (m *Map[V]) Len() int {
	return m.primary.size + m.secondary.size
}

// Scan calls fn for every entry, primary first, in bucket order. The order is
// not stable across resizes. Scan stops early when fn returns false. fn must
// not mutate the map.
func (m *Map[V]) Scan(fn func(e *Entry[V]) bool) {
	if !m.primary.scan(fn) {
		return
	}
	m.secondary.scan(fn)
}

// Resizing reports whether a migration is in flight.
func (m *Map[V]) Resizing() bool {
	return m.secondary.buckets != nil
}

// Destroy drops both bucket arrays. Entries are not touched.
func (m *Map[V]) Destroy() {
	m.primary = table[V]{}
	m.secondary = table[V]{}
	m.cursor = 0
}

func (m *Map[V]) startResize() {
	m.secondary = m.primary
	m.primary = newTable[V](m.secondary.capacity() * 2)
	m.cursor = 0
	m.resizes++
}

// migrate performs up to stepBudget units of work. Moving one entry and
// skipping one empty bucket each cost a unit.
func (m *Map[V]) migrate() {
	if m.secondary.buckets == nil {
		return
	}
	for work := 0; work < m.stepBudget && m.secondary.size > 0; work++ {
		from := &m.secondary.buckets[m.cursor]
		if *from == nil {
			m.cursor++
			continue
		}
		m.primary.insert(m.secondary.detach(from))
	}
	if m.secondary.size == 0 {
		m.secondary = table[V]{}
		m.cursor = 0
	}
}

// Stats is a point-in-time view of the map layout.
type Stats struct {
	Len               int
	PrimaryCapacity   int
	PrimaryLen        int
	SecondaryCapacity int
	SecondaryLen      int
	Cursor            int
	Resizes           uint64
}

func (m *Map[V]) Stats() Stats {
	return Stats{
		Len:               m.Len(),
		PrimaryCapacity:   m.primary.capacity(),
		PrimaryLen:        m.primary.size,
		SecondaryCapacity: m.secondary.capacity(),
		SecondaryLen:      m.secondary.size,
		Cursor:            m.cursor,
		Resizes:           m.resizes,
	}
}
