package stablemap

import (
	"context"
	"fmt"
	"time"

	"github.com/google/btree"

	"github.com/KevoDB/healthrec/pkg/memory"
)

// Compact rewrites the live records into a fresh extent and drops everything
// else from the log.
func (m *Map) Compact() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.compact("manual"); err != nil {
		return err
	}
	m.trackLogSize()
	return nil
}

// compact copies every live record, in key order, either below the current log
// start when they fit there or past the current log end. The new extent only
// becomes visible once the header is switched to it with a single write.
func (m *Map) compact(trigger string) error {
	start := time.Now()
	reclaimed := m.deadBytes()

	newStart := m.hdr.logEnd
	if dataStart+m.liveBytes <= m.hdr.logStart {
		newStart = dataStart
	}
	if err := memory.EnsureCapacity(m.mem, newStart+m.liveBytes); err != nil {
		return fmt.Errorf("failed to grow map for compaction: %w", err)
	}

	index := btree.NewG[entry](btreeDegree, lessEntry)
	off := newStart
	var copyErr error
	m.index.Ascend(func(e entry) bool {
		value, err := m.readValue(e)
		if err != nil {
			copyErr = err
			return false
		}
		frame := encodeFrame(recordTypePut, e.key, value)
		if _, err := m.mem.WriteAt(frame, int64(off)); err != nil {
			copyErr = fmt.Errorf("failed to copy record %d: %w", e.key, err)
			return false
		}
		index.ReplaceOrInsert(entry{key: e.key, offset: off, size: e.size})
		off += uint64(len(frame))
		return true
	})
	if copyErr != nil {
		return copyErr
	}

	next := m.hdr
	next.logStart = newStart
	next.logEnd = off
	if err := m.writeHeader(next); err != nil {
		return err
	}

	m.hdr = next
	m.index = index
	m.compactions++
	if m.stats != nil {
		m.stats.TrackCompaction()
	}
	m.metrics.RecordCompaction(context.Background(), time.Since(start), m.liveBytes, reclaimed, trigger)

	m.logger.Info("compacted log (%s): %d live bytes kept, %d dead bytes reclaimed, extent [%d, %d)",
		trigger, m.liveBytes, reclaimed, next.logStart, next.logEnd)
	return nil
}
