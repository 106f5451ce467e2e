package region

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevoDB/healthrec/pkg/memory"
)

func TestInitFreshMemory(t *testing.T) {
	mem := memory.NewVectorMemory()
	m, err := Init(mem, WithPagesPerBucket(2))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), mem.Size(), "header occupies one page")
	assert.Equal(t, uint64(2), m.PagesPerBucket())
	assert.NotEqual(t, [16]byte{}, [16]byte(m.StoreID()))
	assert.Equal(t, 0, m.BucketsInUse())
}

func TestRegionHandlesAreCached(t *testing.T) {
	m, err := Init(memory.NewVectorMemory())
	require.NoError(t, err)

	a, err := m.Region(CounterRegion)
	require.NoError(t, err)
	b, err := m.Region(CounterRegion)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = m.Region(ID(freeBucket))
	assert.ErrorIs(t, err, ErrInvalidRegion)
}

func TestRegionsDoNotOverlap(t *testing.T) {
	m, err := Init(memory.NewVectorMemory(), WithPagesPerBucket(1))
	require.NoError(t, err)

	r0, err := m.Region(0)
	require.NoError(t, err)
	r1, err := m.Region(1)
	require.NoError(t, err)

	// Interleave growth so buckets alternate between the regions
	for i := 0; i < 3; i++ {
		_, err = r0.Grow(1)
		require.NoError(t, err)
		_, err = r1.Grow(1)
		require.NoError(t, err)
	}
	assert.Equal(t, 6, m.BucketsInUse())

	fill := func(r *Region, b byte) {
		data := bytes.Repeat([]byte{b}, int(memory.Bytes(r)))
		_, err := r.WriteAt(data, 0)
		require.NoError(t, err)
	}
	fill(r0, 0xAA)
	fill(r1, 0x55)

	got := make([]byte, memory.Bytes(r0))
	_, err = r0.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xAA}, len(got)), got)
}

func TestRegionAccessSpansBuckets(t *testing.T) {
	m, err := Init(memory.NewVectorMemory(), WithPagesPerBucket(1))
	require.NoError(t, err)

	r, err := m.Region(RecordRegion)
	require.NoError(t, err)
	other, err := m.Region(5)
	require.NoError(t, err)

	_, err = r.Grow(1)
	require.NoError(t, err)
	_, err = other.Grow(1)
	require.NoError(t, err)
	_, err = r.Grow(1)
	require.NoError(t, err)

	data := []byte("crosses a bucket boundary")
	off := int64(memory.PageSize - 5)
	_, err = r.WriteAt(data, off)
	require.NoError(t, err)

	out := make([]byte, len(data))
	_, err = r.ReadAt(out, off)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	// The neighbouring region is untouched
	zero := make([]byte, memory.PageSize)
	_, err = other.ReadAt(zero, 0)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, memory.PageSize), zero)

	_, err = r.ReadAt(make([]byte, 1), int64(2*memory.PageSize))
	assert.ErrorIs(t, err, memory.ErrOutOfBounds)
}

func TestRegionsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.bin")

	mem, err := memory.OpenFile(path)
	require.NoError(t, err)
	m, err := Init(mem, WithPagesPerBucket(1))
	require.NoError(t, err)
	storeID := m.StoreID()

	r1, err := m.Region(RecordRegion)
	require.NoError(t, err)
	_, err = r1.Grow(2)
	require.NoError(t, err)
	_, err = r1.WriteAt([]byte("persisted"), memory.PageSize+3)
	require.NoError(t, err)
	require.NoError(t, mem.Close())

	mem, err = memory.OpenFile(path)
	require.NoError(t, err)
	defer mem.Close()

	m2, err := Init(mem, WithPagesPerBucket(8))
	require.NoError(t, err)
	assert.Equal(t, storeID, m2.StoreID())
	assert.Equal(t, uint64(1), m2.PagesPerBucket(), "stored bucket size wins")

	r1, err = m2.Region(RecordRegion)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r1.Size())

	out := make([]byte, 9)
	_, err = r1.ReadAt(out, memory.PageSize+3)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(out))
}

func TestCorruptHeaderIsRejected(t *testing.T) {
	mem := memory.NewVectorMemory()
	_, err := Init(mem)
	require.NoError(t, err)

	_, err = mem.WriteAt([]byte{0x01}, sizesOffset)
	require.NoError(t, err)

	_, err = Init(mem)
	assert.ErrorIs(t, err, ErrCorruptHeader)

	_, err = mem.WriteAt([]byte("XXX"), 0)
	require.NoError(t, err)
	_, err = Init(mem)
	assert.ErrorIs(t, err, ErrCorruptHeader)
}

func TestClaim(t *testing.T) {
	m, err := Init(memory.NewVectorMemory())
	require.NoError(t, err)

	r, err := m.Claim(CounterRegion, PurposeCounter)
	require.NoError(t, err)
	assert.Equal(t, CounterRegion, r.ID())

	_, err = m.Claim(CounterRegion, PurposeRecords)
	assert.ErrorIs(t, err, ErrRegionClaimed)

	_, err = m.Claim(7, "scratch")
	require.NoError(t, err)
	_, err = m.Claim(7, "other")
	assert.ErrorIs(t, err, ErrRegionClaimed)

	infos := m.Regions()
	require.Len(t, infos, 2)
	assert.Equal(t, PurposeCounter, infos[0].Purpose)
	assert.Equal(t, "scratch", infos[1].Purpose)
}

func TestOutOfBuckets(t *testing.T) {
	m, err := Init(memory.NewVectorMemory(), WithPagesPerBucket(1))
	require.NoError(t, err)
	r, err := m.Region(2)
	require.NoError(t, err)

	_, err = r.Grow(MaxBuckets + 1)
	assert.ErrorIs(t, err, ErrOutOfBuckets)
	assert.Equal(t, uint64(0), r.Size())
}

var errHeaderWrite = errors.New("header write failed")

// headerFailMemory fails writes to the header page while fail is set
type headerFailMemory struct {
	memory.Memory
	fail bool
}

func (h *headerFailMemory) WriteAt(p []byte, off int64) (int, error) {
	if h.fail && off < memory.PageSize {
		return 0, errHeaderWrite
	}
	return h.Memory.WriteAt(p, off)
}

func TestFailedHeaderWriteLeavesLayoutUnchanged(t *testing.T) {
	mem := &headerFailMemory{Memory: memory.NewVectorMemory()}
	m, err := Init(mem, WithPagesPerBucket(1))
	require.NoError(t, err)

	records, err := m.Region(RecordRegion)
	require.NoError(t, err)
	_, err = records.Grow(1)
	require.NoError(t, err)

	mem.fail = true
	_, err = records.Grow(2)
	assert.ErrorIs(t, err, errHeaderWrite)
	assert.Equal(t, uint64(1), records.Size())
	assert.Equal(t, 1, m.BucketsInUse())
	_, err = records.WriteAt([]byte{1}, memory.PageSize)
	assert.ErrorIs(t, err, memory.ErrOutOfBounds)

	// Memory state still matches what a reopen reads back
	reopened, err := Init(mem)
	require.NoError(t, err)
	assert.Equal(t, m.Regions(), reopened.Regions())

	// The buckets staged by the failed grow are handed out again
	mem.fail = false
	counter, err := m.Region(CounterRegion)
	require.NoError(t, err)
	_, err = counter.Grow(1)
	require.NoError(t, err)
	assert.Equal(t, 2, m.BucketsInUse())

	_, err = counter.WriteAt([]byte("ctr"), 0)
	require.NoError(t, err)
	out := make([]byte, 3)
	_, err = records.ReadAt(out, 0)
	require.NoError(t, err)
	assert.NotEqual(t, "ctr", string(out), "regions do not share a bucket")
}
