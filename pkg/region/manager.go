// Package region partitions one flat memory into independently growable
// virtual regions addressed by small integer ids.
//
// The first page of the flat memory holds the manager header. The rest is
// split into fixed-size buckets; every bucket belongs to at most one region,
// and a region's address space is the concatenation of its buckets in
// allocation order. Buckets are never released, so a region id always
// resolves to the same bytes across restarts.
package region

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/KevoDB/healthrec/pkg/common/log"
	"github.com/KevoDB/healthrec/pkg/memory"
)

const (
	// MaxRegions is the number of addressable region ids; id 0xFF marks a free bucket
	MaxRegions = 255

	// MaxBuckets is the size of the bucket table
	MaxBuckets = 32768

	// DefaultPagesPerBucket gives 1 MiB buckets
	DefaultPagesPerBucket = 16

	headerMagic    = "RGN"
	freeBucket     = 0xFF
	headerPages    = 1
	sizesOffset    = 32
	bucketsOffset  = sizesOffset + MaxRegions*8
	checksumOffset = bucketsOffset + MaxBuckets
	headerSize     = checksumOffset + 8
)

var (
	// ErrCorruptHeader is returned when the manager header fails verification
	ErrCorruptHeader = errors.New("corrupt region header")
	// ErrUnsupportedLayout is returned for a header written by another layout version
	ErrUnsupportedLayout = errors.New("unsupported region layout version")
	// ErrInvalidRegion is returned for the reserved id
	ErrInvalidRegion = errors.New("invalid region id")
	// ErrRegionClaimed is returned when a region id is claimed for two purposes
	ErrRegionClaimed = errors.New("region already claimed")
	// ErrOutOfBuckets is returned when the bucket table is exhausted
	ErrOutOfBuckets = errors.New("no free buckets")
)

// Info describes one region for diagnostics
type Info struct {
	ID      ID     `json:"id"`
	Purpose string `json:"purpose"`
	Pages   uint64 `json:"pages"`
	Buckets int    `json:"buckets"`
}

// Manager owns the flat memory and hands out region handles
type Manager struct {
	mu             sync.Mutex
	mem            memory.Memory
	storeID        uuid.UUID
	pagesPerBucket uint64
	allocated      uint16
	sizes          [MaxRegions]uint64
	table          [MaxBuckets]byte
	buckets        map[ID][]uint16
	handles        map[ID]*Region
	claims         map[ID]string
	logger         log.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithPagesPerBucket sets the bucket size used when a fresh memory is initialized.
// It has no effect on an existing memory, whose header records its own bucket size.
func WithPagesPerBucket(pages uint16) Option {
	return func(m *Manager) {
		if pages > 0 {
			m.pagesPerBucket = uint64(pages)
		}
	}
}

// WithLogger sets the logger used by the manager
func WithLogger(logger log.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// Init loads the region manager stored in mem, initializing a fresh header
// when mem is empty.
func Init(mem memory.Memory, opts ...Option) (*Manager, error) {
	m := &Manager{
		mem:            mem,
		pagesPerBucket: DefaultPagesPerBucket,
		buckets:        make(map[ID][]uint16),
		handles:        make(map[ID]*Region),
		claims:         make(map[ID]string),
		logger:         log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithField("component", "region")

	for i := range m.table {
		m.table[i] = freeBucket
	}

	if mem.Size() == 0 {
		if _, err := mem.Grow(headerPages); err != nil {
			return nil, fmt.Errorf("failed to allocate region header: %w", err)
		}
		m.storeID = uuid.New()
		if err := m.writeHeader(m.allocated, &m.sizes, &m.table); err != nil {
			return nil, err
		}
		m.logger.Info("initialized region manager store=%s pages_per_bucket=%d", m.storeID, m.pagesPerBucket)
		return m, nil
	}

	if err := m.loadHeader(); err != nil {
		return nil, err
	}
	m.logger.Debug("loaded region manager store=%s buckets=%d", m.storeID, m.allocated)
	return m, nil
}

// Region returns the handle for id. Handles are cached, so repeated calls
// return the same value.
func (m *Manager) Region(id ID) (*Region, error) {
	if id == freeBucket {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRegion, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.handles[id]; ok {
		return r, nil
	}
	r := &Region{mgr: m, id: id}
	m.handles[id] = r
	return r, nil
}

// Claim returns the region for id and records purpose as its owner.
// Claiming an id that is already owned by another purpose fails.
func (m *Manager) Claim(id ID, purpose string) (*Region, error) {
	if registered := Purpose(id); registered != "" && registered != purpose {
		return nil, fmt.Errorf("%w: region %d is reserved for %q", ErrRegionClaimed, id, registered)
	}

	m.mu.Lock()
	if owner, ok := m.claims[id]; ok && owner != purpose {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: region %d is owned by %q", ErrRegionClaimed, id, owner)
	}
	m.claims[id] = purpose
	m.mu.Unlock()

	return m.Region(id)
}

// StoreID returns the identifier minted when the memory was initialized
func (m *Manager) StoreID() uuid.UUID {
	return m.storeID
}

// PagesPerBucket returns the bucket size in pages
func (m *Manager) PagesPerBucket() uint64 {
	return m.pagesPerBucket
}

// BucketsInUse returns the number of allocated buckets
func (m *Manager) BucketsInUse() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(m.allocated)
}

// Regions returns information about every region that owns memory or has been claimed
func (m *Manager) Regions() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[ID]bool)
	var infos []Info
	add := func(id ID) {
		if seen[id] {
			return
		}
		seen[id] = true
		purpose := m.claims[id]
		if purpose == "" {
			purpose = Purpose(id)
		}
		infos = append(infos, Info{
			ID:      id,
			Purpose: purpose,
			Pages:   m.sizes[id],
			Buckets: len(m.buckets[id]),
		})
	}
	for id := range m.buckets {
		add(id)
	}
	for id := range m.claims {
		add(id)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// grow extends region id by pages, allocating buckets as needed. The new
// layout is staged and only becomes visible once its header is written.
func (m *Manager) grow(id ID, pages uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.sizes[id]
	if pages == 0 {
		return prev, nil
	}

	newSize := prev + pages
	needed := (newSize + m.pagesPerBucket - 1) / m.pagesPerBucket
	owned := m.buckets[id]
	missing := uint64(0)
	if have := uint64(len(owned)); needed > have {
		missing = needed - have
	}
	if uint64(m.allocated)+missing > MaxBuckets {
		return prev, fmt.Errorf("%w: region %d needs %d more", ErrOutOfBuckets, id, missing)
	}

	// The flat memory must cover the new buckets before the header names them
	if missing > 0 {
		total := headerPages + (uint64(m.allocated)+missing)*m.pagesPerBucket
		if cur := m.mem.Size(); cur < total {
			if _, err := m.mem.Grow(total - cur); err != nil {
				return prev, fmt.Errorf("failed to grow flat memory: %w", err)
			}
		}
	}

	sizes, table := m.sizes, m.table
	allocated := m.allocated
	added := make([]uint16, 0, missing)
	for i := uint64(0); i < missing; i++ {
		table[allocated] = byte(id)
		added = append(added, allocated)
		allocated++
	}
	sizes[id] = newSize

	if err := m.writeHeader(allocated, &sizes, &table); err != nil {
		return prev, err
	}

	m.sizes, m.table, m.allocated = sizes, table, allocated
	if len(added) > 0 {
		m.buckets[id] = append(owned[:len(owned):len(owned)], added...)
	}
	return prev, nil
}

// access runs fn over each physical span covering [off, off+n) of region id
func (m *Manager) access(id ID, off int64, n int, fn func(phys int64, lo, hi int) error) error {
	m.mu.Lock()
	size := m.sizes[id]
	buckets := m.buckets[id]
	m.mu.Unlock()

	if off < 0 || uint64(off)+uint64(n) > size*memory.PageSize {
		return fmt.Errorf("%w: region %d [%d, %d) beyond %d bytes",
			memory.ErrOutOfBounds, id, off, off+int64(n), size*memory.PageSize)
	}

	bucketBytes := int64(m.pagesPerBucket * memory.PageSize)
	done := 0
	for done < n {
		virt := off + int64(done)
		idx := virt / bucketBytes
		within := virt % bucketBytes
		span := int(bucketBytes - within)
		if span > n-done {
			span = n - done
		}

		phys := int64(headerPages*memory.PageSize) + int64(buckets[idx])*bucketBytes + within
		if err := fn(phys, done, done+span); err != nil {
			return err
		}
		done += span
	}
	return nil
}

// writeHeader persists the given layout; the manager's own fields are not read
// except for the immutable store id and bucket size.
func (m *Manager) writeHeader(allocated uint16, sizes *[MaxRegions]uint64, table *[MaxBuckets]byte) error {
	buf := make([]byte, headerSize)
	copy(buf[0:3], headerMagic)
	buf[3] = LayoutVersion
	binary.LittleEndian.PutUint16(buf[4:6], allocated)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(m.pagesPerBucket))
	copy(buf[8:24], m.storeID[:])

	for i, size := range sizes {
		binary.LittleEndian.PutUint64(buf[sizesOffset+i*8:], size)
	}
	copy(buf[bucketsOffset:checksumOffset], table[:])
	binary.LittleEndian.PutUint64(buf[checksumOffset:], xxhash.Sum64(buf[:checksumOffset]))

	if _, err := m.mem.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("failed to write region header: %w", err)
	}
	return nil
}

func (m *Manager) loadHeader() error {
	buf := make([]byte, headerSize)
	if _, err := m.mem.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("failed to read region header: %w", err)
	}

	if string(buf[0:3]) != headerMagic {
		return fmt.Errorf("%w: bad magic %q", ErrCorruptHeader, buf[0:3])
	}
	if buf[3] != LayoutVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedLayout, buf[3])
	}

	want := binary.LittleEndian.Uint64(buf[checksumOffset:])
	if got := xxhash.Sum64(buf[:checksumOffset]); got != want {
		return fmt.Errorf("%w: checksum mismatch", ErrCorruptHeader)
	}

	m.allocated = binary.LittleEndian.Uint16(buf[4:6])
	m.pagesPerBucket = uint64(binary.LittleEndian.Uint16(buf[6:8]))
	if m.pagesPerBucket == 0 {
		return fmt.Errorf("%w: zero bucket size", ErrCorruptHeader)
	}
	copy(m.storeID[:], buf[8:24])

	for i := range m.sizes {
		m.sizes[i] = binary.LittleEndian.Uint64(buf[sizesOffset+i*8:])
	}
	copy(m.table[:], buf[bucketsOffset:checksumOffset])

	for b := uint16(0); b < m.allocated; b++ {
		owner := m.table[b]
		if owner == freeBucket {
			return fmt.Errorf("%w: allocated bucket %d has no owner", ErrCorruptHeader, b)
		}
		m.buckets[ID(owner)] = append(m.buckets[ID(owner)], b)
	}

	for i, size := range m.sizes {
		capacity := uint64(len(m.buckets[ID(i)])) * m.pagesPerBucket
		if size > capacity {
			return fmt.Errorf("%w: region %d size %d exceeds %d bucket pages", ErrCorruptHeader, i, size, capacity)
		}
	}

	if need := headerPages + uint64(m.allocated)*m.pagesPerBucket; m.mem.Size() < need {
		return fmt.Errorf("%w: memory has %d pages, header needs %d", ErrCorruptHeader, m.mem.Size(), need)
	}
	return nil
}
