// Package memory provides the flat, page-granular byte space that every
// region of the store is carved out of.
package memory

import (
	"errors"
	"fmt"
	"sync"
)

const (
	// PageSize is the unit of growth for every Memory implementation
	PageSize = 64 * 1024

	// MaxPages bounds a single memory to 4 GiB worth of pages
	MaxPages = 65536
)

var (
	// ErrOutOfBounds is returned when a read or write touches bytes past Size()*PageSize
	ErrOutOfBounds = errors.New("access out of memory bounds")
	// ErrGrowLimit is returned when a Grow call would exceed MaxPages
	ErrGrowLimit = errors.New("memory growth limit exceeded")
	// ErrUnalignedFile is returned when a backing file is not a whole number of pages
	ErrUnalignedFile = errors.New("memory file is not page aligned")
	// ErrClosed is returned when operating on a closed memory
	ErrClosed = errors.New("memory is closed")
)

// Memory is a growable, byte-addressable space measured in pages.
// Newly grown pages always read as zero.
type Memory interface {
	// Size returns the current size in pages
	Size() uint64

	// Grow adds pages to the memory and returns the previous size in pages
	Grow(pages uint64) (uint64, error)

	// ReadAt reads len(p) bytes starting at off
	ReadAt(p []byte, off int64) (int, error)

	// WriteAt writes len(p) bytes starting at off
	WriteAt(p []byte, off int64) (int, error)
}

// Syncer is implemented by memories that can flush to durable storage
type Syncer interface {
	Sync() error
}

// checkBounds validates an access of n bytes at off against a memory of size pages
func checkBounds(off int64, n int, pages uint64) error {
	if off < 0 {
		return fmt.Errorf("%w: negative offset %d", ErrOutOfBounds, off)
	}
	end := uint64(off) + uint64(n)
	if end > pages*PageSize {
		return fmt.Errorf("%w: [%d, %d) beyond %d bytes", ErrOutOfBounds, off, end, pages*PageSize)
	}
	return nil
}

// Bytes returns the size of m in bytes
func Bytes(m Memory) uint64 {
	return m.Size() * PageSize
}

// EnsureCapacity grows m so that at least n bytes are addressable
func EnsureCapacity(m Memory, n uint64) error {
	have := Bytes(m)
	if n <= have {
		return nil
	}
	need := (n - have + PageSize - 1) / PageSize
	_, err := m.Grow(need)
	return err
}

// VectorMemory is an in-process Memory backed by a byte slice
type VectorMemory struct {
	mu   sync.RWMutex
	data []byte
}

// NewVectorMemory creates an empty in-process memory
func NewVectorMemory() *VectorMemory {
	return &VectorMemory{}
}

// Size returns the current size in pages
func (v *VectorMemory) Size() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return uint64(len(v.data)) / PageSize
}

// Grow extends the memory by the given number of zeroed pages
func (v *VectorMemory) Grow(pages uint64) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	prev := uint64(len(v.data)) / PageSize
	if prev+pages > MaxPages {
		return prev, fmt.Errorf("%w: %d + %d pages", ErrGrowLimit, prev, pages)
	}
	v.data = append(v.data, make([]byte, pages*PageSize)...)
	return prev, nil
}

// ReadAt implements io.ReaderAt
func (v *VectorMemory) ReadAt(p []byte, off int64) (int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := checkBounds(off, len(p), uint64(len(v.data))/PageSize); err != nil {
		return 0, err
	}
	return copy(p, v.data[off:]), nil
}

// WriteAt implements io.WriterAt
func (v *VectorMemory) WriteAt(p []byte, off int64) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := checkBounds(off, len(p), uint64(len(v.data))/PageSize); err != nil {
		return 0, err
	}
	return copy(v.data[off:], p), nil
}
