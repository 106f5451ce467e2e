// Package stablemap implements a durable ordered map from u64 keys to bounded
// byte values, persisted inside a single memory.
//
// The memory holds a fixed header followed by an append-only log of put and
// delete records. An ordered in-memory index of the live records is rebuilt by
// replaying the log when the map is opened. The header's log end only moves
// after a record has been written completely, so a torn append is never
// observed after a restart.
package stablemap

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/btree"

	"github.com/KevoDB/healthrec/pkg/common/log"
	"github.com/KevoDB/healthrec/pkg/memory"
	"github.com/KevoDB/healthrec/pkg/stats"
	"github.com/KevoDB/healthrec/pkg/telemetry"
)

const (
	// DefaultCompactionRatio triggers compaction once dead bytes exceed live bytes
	DefaultCompactionRatio = 1.0

	// DefaultCompactionMinBytes keeps small logs from compacting constantly
	DefaultCompactionMinBytes = 1 << 20

	btreeDegree = 32
)

var (
	// ErrValueTooLarge is returned when a value exceeds the map's maximum value size
	ErrValueTooLarge = errors.New("value exceeds maximum size")
	// ErrCorrupt is returned when the header or a log record fails verification
	ErrCorrupt = errors.New("corrupt map")
	// ErrIncompatible is returned when a stored map was created with a different value bound
	ErrIncompatible = errors.New("incompatible map")
)

// entry locates the live record for a key inside the log
type entry struct {
	key    uint64
	offset uint64
	size   uint32 // value length
}

func lessEntry(a, b entry) bool {
	return a.key < b.key
}

// Stats describes the state of the log
type Stats struct {
	Entries     int    `json:"entries"`
	LiveBytes   uint64 `json:"live_bytes"`
	DeadBytes   uint64 `json:"dead_bytes"`
	LogStart    uint64 `json:"log_start"`
	LogEnd      uint64 `json:"log_end"`
	Compactions uint64 `json:"compactions"`
}

// Map is a durable ordered map
type Map struct {
	mu           sync.RWMutex
	mem          memory.Memory
	hdr          header
	index        *btree.BTreeG[entry]
	liveBytes    uint64
	maxValueSize uint32
	compactions  uint64

	compactionRatio    float64
	compactionMinBytes uint64

	syncer  memory.Syncer
	logger  log.Logger
	metrics Metrics
	stats   stats.Collector
}

// Option configures a Map
type Option func(*Map)

// WithLogger sets the logger used by the map
func WithLogger(logger log.Logger) Option {
	return func(m *Map) {
		m.logger = logger
	}
}

// WithMetrics sets the telemetry sink for map operations
func WithMetrics(metrics Metrics) Option {
	return func(m *Map) {
		m.metrics = metrics
	}
}

// WithStats sets the statistics collector updated by the map
func WithStats(collector stats.Collector) Option {
	return func(m *Map) {
		m.stats = collector
	}
}

// WithCompaction sets the automatic compaction policy. Compaction runs after a
// mutation once the dead bytes exceed both minBytes and ratio times the live
// bytes. A ratio of zero or less disables automatic compaction.
func WithCompaction(ratio float64, minBytes uint64) Option {
	return func(m *Map) {
		m.compactionRatio = ratio
		m.compactionMinBytes = minBytes
	}
}

// WithSyncer makes every mutation durable by calling s after the header is written
func WithSyncer(s memory.Syncer) Option {
	return func(m *Map) {
		m.syncer = s
	}
}

// Init opens the map stored in mem, or creates an empty one when mem is empty.
// maxValueSize bounds every value; a stored map with a different bound is rejected.
func Init(mem memory.Memory, maxValueSize uint32, opts ...Option) (*Map, error) {
	m := &Map{
		mem:                mem,
		index:              btree.NewG[entry](btreeDegree, lessEntry),
		maxValueSize:       maxValueSize,
		compactionRatio:    DefaultCompactionRatio,
		compactionMinBytes: DefaultCompactionMinBytes,
		logger:             log.GetDefaultLogger(),
		metrics:            NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithField("component", telemetry.ComponentStableMap)

	if mem.Size() == 0 {
		m.hdr = header{maxValueSize: maxValueSize, logStart: dataStart, logEnd: dataStart}
		if err := memory.EnsureCapacity(mem, headerSize); err != nil {
			return nil, fmt.Errorf("failed to allocate map header: %w", err)
		}
		if err := m.writeHeader(m.hdr); err != nil {
			return nil, err
		}
		m.trackLogSize()
		return m, nil
	}

	buf := make([]byte, headerSize)
	if _, err := mem.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("failed to read map header: %w", err)
	}
	hdr, err := decodeHeader(buf)
	if err != nil {
		m.metrics.RecordCorruption(context.Background(), "header")
		return nil, err
	}
	if hdr.maxValueSize != maxValueSize {
		return nil, fmt.Errorf("%w: stored value bound %d, requested %d", ErrIncompatible, hdr.maxValueSize, maxValueSize)
	}
	if hdr.logEnd > memory.Bytes(mem) {
		return nil, fmt.Errorf("%w: log end %d beyond memory of %d bytes", ErrCorrupt, hdr.logEnd, memory.Bytes(mem))
	}
	m.hdr = hdr

	if err := m.replay(); err != nil {
		return nil, err
	}
	return m, nil
}

// replay rebuilds the index from the log between logStart and logEnd
func (m *Map) replay() error {
	start := time.Now()
	var recoveryStart time.Time
	if m.stats != nil {
		recoveryStart = m.stats.StartRecovery()
	}

	var replayed uint64
	frame := make([]byte, frameHeaderSize)
	maxPayload := uint32(keySize) + m.maxValueSize

	for off := m.hdr.logStart; off < m.hdr.logEnd; {
		if off+frameHeaderSize > m.hdr.logEnd {
			return m.corrupt("truncated frame header at %d", off)
		}
		if _, err := m.mem.ReadAt(frame, int64(off)); err != nil {
			return fmt.Errorf("failed to read log at %d: %w", off, err)
		}

		checksum := binary.LittleEndian.Uint64(frame[0:8])
		payloadLen := binary.LittleEndian.Uint32(frame[8:12])
		recordType := frame[12]

		if payloadLen < keySize || payloadLen > maxPayload {
			return m.corrupt("invalid payload length %d at %d", payloadLen, off)
		}
		end := off + frameHeaderSize + uint64(payloadLen)
		if end > m.hdr.logEnd {
			return m.corrupt("frame at %d runs past log end", off)
		}

		payload := make([]byte, payloadLen)
		if _, err := m.mem.ReadAt(payload, int64(off+frameHeaderSize)); err != nil {
			return fmt.Errorf("failed to read log at %d: %w", off, err)
		}

		digest := xxhash.New()
		digest.Write(frame[8:])
		digest.Write(payload)
		if digest.Sum64() != checksum {
			return m.corrupt("checksum mismatch at %d", off)
		}

		key := binary.LittleEndian.Uint64(payload[:keySize])
		switch recordType {
		case recordTypePut:
			m.setEntry(entry{key: key, offset: off, size: payloadLen - keySize})
		case recordTypeDelete:
			m.deleteEntry(key)
		default:
			return m.corrupt("unknown record type %d at %d", recordType, off)
		}

		replayed++
		off = end
	}

	if m.stats != nil {
		m.stats.FinishRecovery(recoveryStart, replayed, uint64(m.index.Len()))
	}
	m.metrics.RecordRecovery(context.Background(), time.Since(start), replayed, m.index.Len())
	m.trackLogSize()

	m.logger.Info("replayed %d log records, %d live entries", replayed, m.index.Len())
	return nil
}

func (m *Map) corrupt(format string, args ...interface{}) error {
	m.metrics.RecordCorruption(context.Background(), "log")
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

// setEntry installs e in the index and keeps the live byte count current
func (m *Map) setEntry(e entry) {
	if prev, ok := m.index.ReplaceOrInsert(e); ok {
		m.liveBytes -= frameSize(int(prev.size))
	}
	m.liveBytes += frameSize(int(e.size))
}

func (m *Map) deleteEntry(key uint64) (entry, bool) {
	prev, ok := m.index.Delete(entry{key: key})
	if ok {
		m.liveBytes -= frameSize(int(prev.size))
	}
	return prev, ok
}

// Get returns a copy of the value stored for key
func (m *Map) Get(key uint64) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.index.Get(entry{key: key})
	if !ok {
		return nil, false, nil
	}
	value, err := m.readValue(e)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Contains reports whether key is present
func (m *Map) Contains(key uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index.Has(entry{key: key})
}

// Insert stores value under key and returns the previous value, if any.
// Values larger than the map's bound fail with ErrValueTooLarge before
// anything is written.
func (m *Map) Insert(key uint64, value []byte) ([]byte, bool, error) {
	if uint64(len(value)) > uint64(m.maxValueSize) {
		return nil, false, fmt.Errorf("%w: %d bytes, limit %d", ErrValueTooLarge, len(value), m.maxValueSize)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	prev, existed, err := m.current(key)
	if err != nil {
		return nil, false, err
	}

	off, err := m.append(encodeFrame(recordTypePut, key, value))
	if err != nil {
		return nil, false, err
	}
	m.setEntry(entry{key: key, offset: off, size: uint32(len(value))})
	m.metrics.RecordAppend(context.Background(), time.Since(start), int64(frameSize(len(value))), telemetry.OpTypePut)

	m.afterMutation()
	return prev, existed, nil
}

// Remove deletes key and returns the value it held, if any
func (m *Map) Remove(key uint64) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	prev, existed, err := m.current(key)
	if err != nil || !existed {
		return nil, false, err
	}

	if _, err := m.append(encodeFrame(recordTypeDelete, key, nil)); err != nil {
		return nil, false, err
	}
	m.deleteEntry(key)
	m.metrics.RecordAppend(context.Background(), time.Since(start), int64(frameSize(0)), telemetry.OpTypeDelete)

	m.afterMutation()
	return prev, true, nil
}

// Len returns the number of live entries
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index.Len()
}

// MaxValueSize returns the value bound of the map
func (m *Map) MaxValueSize() uint32 {
	return m.maxValueSize
}

// Stats returns the current log statistics
func (m *Map) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Entries:     m.index.Len(),
		LiveBytes:   m.liveBytes,
		DeadBytes:   m.deadBytes(),
		LogStart:    m.hdr.logStart,
		LogEnd:      m.hdr.logEnd,
		Compactions: m.compactions,
	}
}

func (m *Map) current(key uint64) ([]byte, bool, error) {
	e, ok := m.index.Get(entry{key: key})
	if !ok {
		return nil, false, nil
	}
	value, err := m.readValue(e)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *Map) readValue(e entry) ([]byte, error) {
	value := make([]byte, e.size)
	if _, err := m.mem.ReadAt(value, valueOffset(e.offset)); err != nil {
		return nil, fmt.Errorf("failed to read value for key %d: %w", e.key, err)
	}
	if m.stats != nil {
		m.stats.TrackBytes(false, uint64(e.size))
	}
	return value, nil
}

// append writes frame at the log end and then publishes it through the header.
// It returns the offset of the frame.
func (m *Map) append(frame []byte) (uint64, error) {
	off := m.hdr.logEnd
	end := off + uint64(len(frame))

	if err := memory.EnsureCapacity(m.mem, end); err != nil {
		return 0, fmt.Errorf("failed to grow map: %w", err)
	}
	if _, err := m.mem.WriteAt(frame, int64(off)); err != nil {
		return 0, fmt.Errorf("failed to write log record: %w", err)
	}

	next := m.hdr
	next.logEnd = end
	if err := m.writeHeader(next); err != nil {
		return 0, err
	}
	m.hdr = next

	if m.stats != nil {
		m.stats.TrackBytes(true, uint64(len(frame)))
	}
	return off, nil
}

func (m *Map) writeHeader(h header) error {
	if _, err := m.mem.WriteAt(h.encode(), 0); err != nil {
		return fmt.Errorf("failed to write map header: %w", err)
	}
	if m.syncer != nil {
		if err := m.syncer.Sync(); err != nil {
			return fmt.Errorf("failed to sync map: %w", err)
		}
		if m.stats != nil {
			m.stats.TrackSync()
		}
	}
	return nil
}

func (m *Map) deadBytes() uint64 {
	return (m.hdr.logEnd - m.hdr.logStart) - m.liveBytes
}

func (m *Map) trackLogSize() {
	if m.stats != nil {
		m.stats.TrackLogSize(m.liveBytes, m.deadBytes())
	}
}

// afterMutation updates statistics and compacts when the policy says so.
// A failed automatic compaction leaves the current log in place.
func (m *Map) afterMutation() {
	m.trackLogSize()

	if m.compactionRatio <= 0 {
		return
	}
	dead := m.deadBytes()
	if dead < m.compactionMinBytes || float64(dead) <= m.compactionRatio*float64(m.liveBytes) {
		return
	}
	if err := m.compact("auto"); err != nil {
		m.logger.Warn("automatic compaction failed: %v", err)
	}
}
