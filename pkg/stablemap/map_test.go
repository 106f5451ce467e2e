package stablemap

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevoDB/healthrec/pkg/common/iterator"
	"github.com/KevoDB/healthrec/pkg/memory"
	"github.com/KevoDB/healthrec/pkg/region"
	"github.com/KevoDB/healthrec/pkg/stats"
)

const testMaxValue = 1024

func newTestMap(t *testing.T, opts ...Option) (*Map, *memory.VectorMemory) {
	t.Helper()
	mem := memory.NewVectorMemory()
	m, err := Init(mem, testMaxValue, opts...)
	require.NoError(t, err)
	return m, mem
}

func TestInsertGetRemove(t *testing.T) {
	m, _ := newTestMap(t)

	_, ok, err := m.Get(1)
	require.NoError(t, err)
	assert.False(t, ok)

	prev, existed, err := m.Insert(1, []byte("one"))
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Nil(t, prev)

	prev, existed, err = m.Insert(1, []byte("uno"))
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, []byte("one"), prev)

	value, ok, err := m.Get(1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("uno"), value)
	assert.True(t, m.Contains(1))
	assert.Equal(t, 1, m.Len())

	prev, existed, err = m.Remove(1)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, []byte("uno"), prev)

	_, existed, err = m.Remove(1)
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Equal(t, 0, m.Len())
	assert.False(t, m.Contains(1))
}

func TestEmptyValues(t *testing.T) {
	m, _ := newTestMap(t)

	_, _, err := m.Insert(9, nil)
	require.NoError(t, err)

	value, ok, err := m.Get(9)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, value)
}

func TestValueTooLargeWritesNothing(t *testing.T) {
	m, _ := newTestMap(t)
	_, _, err := m.Insert(1, []byte("keep"))
	require.NoError(t, err)
	before := m.Stats()

	_, _, err = m.Insert(2, make([]byte, testMaxValue+1))
	assert.ErrorIs(t, err, ErrValueTooLarge)

	assert.Equal(t, before, m.Stats())
	assert.False(t, m.Contains(2))

	// Exactly at the bound is accepted
	_, _, err = m.Insert(2, make([]byte, testMaxValue))
	require.NoError(t, err)
}

func TestIteratorOrderAndRestart(t *testing.T) {
	m, _ := newTestMap(t)
	for _, k := range []uint64{5, 1, 9, 3, 7} {
		_, _, err := m.Insert(k, []byte(fmt.Sprintf("v%d", k)))
		require.NoError(t, err)
	}

	it := m.Iterator()
	keys, values := iterator.Collect(it)
	assert.Equal(t, []uint64{1, 3, 5, 7, 9}, keys)
	assert.Equal(t, []byte("v7"), values[3])
	require.NoError(t, it.Err())

	// A fresh pass starts from the smallest key again
	keys, _ = iterator.Collect(it)
	assert.Equal(t, []uint64{1, 3, 5, 7, 9}, keys)

	assert.True(t, it.Seek(4))
	assert.Equal(t, uint64(5), it.Key())
	assert.False(t, it.Seek(10))

	it.SeekToLast()
	assert.Equal(t, uint64(9), it.Key())
	assert.False(t, it.Next())
	assert.Nil(t, it.Value())
}

func TestIteratorIsASnapshot(t *testing.T) {
	m, _ := newTestMap(t)
	for k := uint64(1); k <= 3; k++ {
		_, _, err := m.Insert(k, []byte{byte(k)})
		require.NoError(t, err)
	}

	it := m.Iterator()

	_, _, err := m.Insert(4, []byte{4})
	require.NoError(t, err)
	_, _, err = m.Insert(2, []byte{20})
	require.NoError(t, err)
	_, _, err = m.Remove(3)
	require.NoError(t, err)

	keys, values := iterator.Collect(it)
	assert.Equal(t, []uint64{1, 2, 3}, keys)
	assert.Equal(t, [][]byte{{1}, {2}, {3}}, values)

	keys, _ = iterator.Collect(m.Iterator())
	assert.Equal(t, []uint64{1, 2, 4}, keys)
}

func TestReplayAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.bin")

	mem, err := memory.OpenFile(path)
	require.NoError(t, err)
	m, err := Init(mem, testMaxValue, WithSyncer(mem))
	require.NoError(t, err)

	for k := uint64(1); k <= 50; k++ {
		_, _, err := m.Insert(k, bytes.Repeat([]byte{byte(k)}, int(k)))
		require.NoError(t, err)
	}
	for k := uint64(1); k <= 50; k += 5 {
		_, _, err := m.Remove(k)
		require.NoError(t, err)
	}
	_, _, err = m.Insert(2, []byte("rewritten"))
	require.NoError(t, err)
	want := m.Stats()
	require.NoError(t, mem.Close())

	mem, err = memory.OpenFile(path)
	require.NoError(t, err)
	defer mem.Close()

	collector := stats.NewAtomicCollector()
	m, err = Init(mem, testMaxValue, WithStats(collector))
	require.NoError(t, err)

	assert.Equal(t, want.Entries, m.Len())
	assert.Equal(t, want.LiveBytes, m.Stats().LiveBytes)
	assert.False(t, m.Contains(1))
	assert.False(t, m.Contains(46))

	value, ok, err := m.Get(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("rewritten"), value)

	value, ok, err = m.Get(50)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, bytes.Repeat([]byte{50}, 50), value)

	recovery := collector.GetStats()["recovery"].(map[string]interface{})
	assert.Equal(t, uint64(61), recovery["records_replayed"])
	assert.Equal(t, uint64(40), recovery["live_records"])
}

func TestTornAppendIsInvisible(t *testing.T) {
	m, mem := newTestMap(t)
	_, _, err := m.Insert(1, []byte("durable"))
	require.NoError(t, err)

	// A frame written past the log end without a header update
	frame := encodeFrame(recordTypePut, 2, []byte("torn"))
	end := m.Stats().LogEnd
	_, err = mem.WriteAt(frame, int64(end))
	require.NoError(t, err)

	reopened, err := Init(mem, testMaxValue)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())
	assert.False(t, reopened.Contains(2))
}

func TestCorruptLogIsRejected(t *testing.T) {
	m, mem := newTestMap(t)
	_, _, err := m.Insert(1, []byte("payload"))
	require.NoError(t, err)

	_, err = mem.WriteAt([]byte{0xFF}, dataStart+frameHeaderSize+keySize+2)
	require.NoError(t, err)

	_, err = Init(mem, testMaxValue)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestCorruptHeaderIsRejected(t *testing.T) {
	_, mem := newTestMap(t)
	_, err := mem.WriteAt([]byte{0x42}, 9)
	require.NoError(t, err)

	_, err = Init(mem, testMaxValue)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestIncompatibleBound(t *testing.T) {
	_, mem := newTestMap(t)
	_, err := Init(mem, 2048)
	assert.ErrorIs(t, err, ErrIncompatible)
}

func TestManualCompaction(t *testing.T) {
	m, mem := newTestMap(t, WithCompaction(0, 0))

	for k := uint64(1); k <= 20; k++ {
		_, _, err := m.Insert(k, bytes.Repeat([]byte("x"), 100))
		require.NoError(t, err)
	}
	for k := uint64(1); k <= 20; k++ {
		if k%2 == 0 {
			_, _, err := m.Remove(k)
			require.NoError(t, err)
		} else {
			_, _, err := m.Insert(k, bytes.Repeat([]byte("y"), 50))
			require.NoError(t, err)
		}
	}

	before := m.Stats()
	require.Greater(t, before.DeadBytes, uint64(0))

	require.NoError(t, m.Compact())
	after := m.Stats()
	assert.Equal(t, uint64(0), after.DeadBytes)
	assert.Equal(t, before.LiveBytes, after.LiveBytes)
	assert.Equal(t, 10, after.Entries)
	assert.Equal(t, uint64(1), after.Compactions)
	assert.Equal(t, before.LogEnd, after.LogStart, "first compaction lands past the old log")

	keys, values := iterator.Collect(m.Iterator())
	assert.Equal(t, []uint64{1, 3, 5, 7, 9, 11, 13, 15, 17, 19}, keys)
	for _, v := range values {
		assert.Equal(t, bytes.Repeat([]byte("y"), 50), v)
	}

	// The second compaction fits below the current extent
	_, _, err := m.Remove(1)
	require.NoError(t, err)
	require.NoError(t, m.Compact())
	assert.Equal(t, uint64(dataStart), m.Stats().LogStart)

	reopened, err := Init(mem, testMaxValue)
	require.NoError(t, err)
	keys, _ = iterator.Collect(reopened.Iterator())
	assert.Equal(t, []uint64{3, 5, 7, 9, 11, 13, 15, 17, 19}, keys)
	assert.Equal(t, uint64(0), reopened.Stats().DeadBytes)
}

func TestAutomaticCompaction(t *testing.T) {
	collector := stats.NewAtomicCollector()
	m, _ := newTestMap(t, WithCompaction(1.0, 4096), WithStats(collector))

	value := bytes.Repeat([]byte("z"), 500)
	for i := 0; i < 40; i++ {
		_, _, err := m.Insert(1, value)
		require.NoError(t, err)
	}

	s := m.Stats()
	assert.GreaterOrEqual(t, s.Compactions, uint64(1))
	assert.LessOrEqual(t, s.DeadBytes, uint64(4096)+s.LiveBytes)
	assert.Equal(t, uint64(s.Compactions), collector.GetStats()["compaction_count"])

	got, ok, err := m.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value, got)
}

func TestMapInsideRegion(t *testing.T) {
	mgr, err := region.Init(memory.NewVectorMemory(), region.WithPagesPerBucket(1))
	require.NoError(t, err)
	records, err := mgr.Claim(region.RecordRegion, region.PurposeRecords)
	require.NoError(t, err)

	m, err := Init(records, testMaxValue)
	require.NoError(t, err)

	// Enough data to span several buckets
	for k := uint64(1); k <= 200; k++ {
		_, _, err := m.Insert(k, bytes.Repeat([]byte{byte(k)}, 1000))
		require.NoError(t, err)
	}
	assert.Greater(t, mgr.BucketsInUse(), 2)

	reopened, err := Init(records, testMaxValue)
	require.NoError(t, err)
	value, ok, err := reopened.Get(150)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, bytes.Repeat([]byte{150}, 1000), value)
}
