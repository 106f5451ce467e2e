package bounded

import (
	"github.com/KevoDB/healthrec/pkg/common/iterator"
)

// WindowIterator wraps an iterator and limits it to the entries at positions
// [offset, offset+limit) of the ascending iteration
type WindowIterator struct {
	iterator.Iterator
	offset int
	limit  int
	pos    int
}

// NewWindowIterator creates a new window iterator. A limit of zero yields an
// empty window.
func NewWindowIterator(iter iterator.Iterator, offset, limit int) *WindowIterator {
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}
	return &WindowIterator{
		Iterator: iter,
		offset:   offset,
		limit:    limit,
	}
}

// SeekToFirst positions at the first entry of the window
func (w *WindowIterator) SeekToFirst() {
	w.Iterator.SeekToFirst()
	w.pos = 0
	for w.pos < w.offset && w.Iterator.Valid() {
		w.Iterator.Next()
		w.pos++
	}
}

// SeekToLast positions at the last entry of the window
func (w *WindowIterator) SeekToLast() {
	n := 0
	for w.SeekToFirst(); w.Valid(); w.Next() {
		n++
	}
	w.SeekToFirst()
	for i := 1; i < n; i++ {
		w.Next()
	}
}

// Seek positions at the first key >= target inside the window
func (w *WindowIterator) Seek(target uint64) bool {
	for w.SeekToFirst(); w.Valid(); w.Next() {
		if w.Iterator.Key() >= target {
			return true
		}
	}
	return false
}

// Next advances to the next entry of the window
func (w *WindowIterator) Next() bool {
	if !w.Valid() {
		return false
	}
	w.Iterator.Next()
	w.pos++
	return w.Valid()
}

// Valid returns true if the iterator is positioned inside the window.
// offset+limit is never formed so a limit near MaxInt cannot overflow.
func (w *WindowIterator) Valid() bool {
	return w.Iterator.Valid() && w.pos >= w.offset && w.pos-w.offset < w.limit
}

// Key returns the current key, or zero outside the window
func (w *WindowIterator) Key() uint64 {
	if !w.Valid() {
		return 0
	}
	return w.Iterator.Key()
}

// Value returns the current value, or nil outside the window
func (w *WindowIterator) Value() []byte {
	if !w.Valid() {
		return nil
	}
	return w.Iterator.Value()
}

// Err returns the wrapped iterator's read error, if it reports one
func (w *WindowIterator) Err() error {
	if e, ok := w.Iterator.(interface{ Err() error }); ok {
		return e.Err()
	}
	return nil
}
