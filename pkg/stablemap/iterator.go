package stablemap

import (
	"sort"

	"github.com/KevoDB/healthrec/pkg/common/iterator"
)

// Ensure Iterator implements the common iterator interface
var _ iterator.Iterator = (*Iterator)(nil)

// Iterator walks the entries of a map in ascending key order.
//
// It sees the entries that were live when it was created. Values are read
// from the log on access; the log keeps superseded records until a compaction
// reuses their space, so an iterator must not outlive more than one Compact.
type Iterator struct {
	m       *Map
	entries []entry
	pos     int
	value   []byte
	loaded  bool
	err     error
}

// Iterator returns a new iterator positioned before the first entry
func (m *Map) Iterator() *Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]entry, 0, m.index.Len())
	m.index.Ascend(func(e entry) bool {
		entries = append(entries, e)
		return true
	})
	return &Iterator{m: m, entries: entries, pos: -1}
}

// SeekToFirst positions the iterator at the first key
func (it *Iterator) SeekToFirst() {
	it.moveTo(0)
}

// SeekToLast positions the iterator at the last key
func (it *Iterator) SeekToLast() {
	it.moveTo(len(it.entries) - 1)
}

// Seek positions the iterator at the first key >= target
func (it *Iterator) Seek(target uint64) bool {
	it.moveTo(sort.Search(len(it.entries), func(i int) bool {
		return it.entries[i].key >= target
	}))
	return it.Valid()
}

// Next advances the iterator to the next key
func (it *Iterator) Next() bool {
	if !it.Valid() {
		return false
	}
	it.moveTo(it.pos + 1)
	return it.Valid()
}

// Key returns the current key
func (it *Iterator) Key() uint64 {
	if !it.Valid() {
		return 0
	}
	return it.entries[it.pos].key
}

// Value returns the current value, or nil when it could not be read.
// A read failure is reported by Err.
func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	if !it.loaded {
		it.m.mu.RLock()
		value, err := it.m.readValue(it.entries[it.pos])
		it.m.mu.RUnlock()
		if err != nil && it.err == nil {
			it.err = err
		}
		it.value = value
		it.loaded = true
	}
	return it.value
}

// Valid returns true if the iterator is positioned at an entry
func (it *Iterator) Valid() bool {
	return it.pos >= 0 && it.pos < len(it.entries)
}

// Err returns the first error met while reading values
func (it *Iterator) Err() error {
	return it.err
}

// Len returns the number of entries in the snapshot
func (it *Iterator) Len() int {
	return len(it.entries)
}

func (it *Iterator) moveTo(pos int) {
	if pos < 0 || pos >= len(it.entries) {
		pos = len(it.entries)
	}
	it.pos = pos
	it.value = nil
	it.loaded = false
}
