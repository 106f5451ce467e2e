package region

import (
	"github.com/KevoDB/healthrec/pkg/memory"
)

// Ensure Region implements memory.Memory
var _ memory.Memory = (*Region)(nil)

// Region is a virtual memory backed by the buckets its manager assigns to it.
// Offsets are relative to the start of the region.
type Region struct {
	mgr *Manager
	id  ID
}

// ID returns the region id
func (r *Region) ID() ID {
	return r.id
}

// Size returns the region size in pages
func (r *Region) Size() uint64 {
	r.mgr.mu.Lock()
	defer r.mgr.mu.Unlock()
	return r.mgr.sizes[r.id]
}

// Grow extends the region, claiming buckets from the flat memory as needed
func (r *Region) Grow(pages uint64) (uint64, error) {
	return r.mgr.grow(r.id, pages)
}

// ReadAt reads from the region at a region-relative offset
func (r *Region) ReadAt(p []byte, off int64) (int, error) {
	err := r.mgr.access(r.id, off, len(p), func(phys int64, lo, hi int) error {
		_, err := r.mgr.mem.ReadAt(p[lo:hi], phys)
		return err
	})
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteAt writes to the region at a region-relative offset
func (r *Region) WriteAt(p []byte, off int64) (int, error) {
	err := r.mgr.access(r.id, off, len(p), func(phys int64, lo, hi int) error {
		_, err := r.mgr.mem.WriteAt(p[lo:hi], phys)
		return err
	})
	if err != nil {
		return 0, err
	}
	return len(p), nil
}
