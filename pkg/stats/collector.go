package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// OperationType names a store operation in the statistics snapshot
type OperationType string

const (
	OpCreate             OperationType = "create"
	OpGet                OperationType = "get"
	OpUpdate             OperationType = "update"
	OpDelete             OperationType = "delete"
	OpList               OperationType = "list"
	OpSearch             OperationType = "search"
	OpSort               OperationType = "sort"
	OpPaginate           OperationType = "paginate"
	OpBulkUpdate         OperationType = "bulk_update"
	OpSetPresence        OperationType = "set_presence"
	OpSetNextAppointment OperationType = "set_next_appointment"
	OpHistory            OperationType = "history"
	OpCompact            OperationType = "compact"
	OpBackup             OperationType = "backup"
)

// opStats holds everything tracked for one operation type
type opStats struct {
	count  atomic.Uint64
	lastNs atomic.Int64
	sumNs  atomic.Uint64
	minNs  atomic.Uint64 // zero until the first sample
	maxNs  atomic.Uint64
}

func (s *opStats) observe(now time.Time, latency time.Duration) {
	ns := uint64(latency.Nanoseconds())
	s.count.Add(1)
	s.lastNs.Store(now.UnixNano())
	s.sumNs.Add(ns)

	for cur := s.maxNs.Load(); ns > cur; cur = s.maxNs.Load() {
		if s.maxNs.CompareAndSwap(cur, ns) {
			break
		}
	}
	for cur := s.minNs.Load(); cur == 0 || ns < cur; cur = s.minNs.Load() {
		if s.minNs.CompareAndSwap(cur, ns) {
			break
		}
	}
}

func (s *opStats) latency() map[string]interface{} {
	n := s.count.Load()
	out := map[string]interface{}{
		"count":  n,
		"avg_ns": s.sumNs.Load() / n,
	}
	if v := s.minNs.Load(); v != 0 {
		out["min_ns"] = v
	}
	if v := s.maxNs.Load(); v != 0 {
		out["max_ns"] = v
	}
	return out
}

// AtomicCollector is the Collector used by the engine. Counters are atomics;
// the maps are only locked to add a new operation or error kind.
type AtomicCollector struct {
	mu     sync.RWMutex
	ops    map[OperationType]*opStats
	errors map[string]*atomic.Uint64

	liveBytes    atomic.Uint64
	deadBytes    atomic.Uint64
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
	syncs        atomic.Uint64
	compactions  atomic.Uint64

	replayed   atomic.Uint64
	recovered  atomic.Uint64
	recoveryNs atomic.Int64

	now func() time.Time
}

// NewAtomicCollector returns an empty collector
func NewAtomicCollector() *AtomicCollector {
	return &AtomicCollector{
		ops:    make(map[OperationType]*opStats),
		errors: make(map[string]*atomic.Uint64),
		now:    time.Now,
	}
}

func (c *AtomicCollector) ObserveOperation(op OperationType, latency time.Duration) {
	c.mu.RLock()
	s, ok := c.ops[op]
	c.mu.RUnlock()
	if !ok {
		c.mu.Lock()
		if s, ok = c.ops[op]; !ok {
			s = &opStats{}
			c.ops[op] = s
		}
		c.mu.Unlock()
	}
	s.observe(c.now(), latency)
}

func (c *AtomicCollector) TrackError(kind string) {
	c.mu.RLock()
	n, ok := c.errors[kind]
	c.mu.RUnlock()
	if !ok {
		c.mu.Lock()
		if n, ok = c.errors[kind]; !ok {
			n = &atomic.Uint64{}
			c.errors[kind] = n
		}
		c.mu.Unlock()
	}
	n.Add(1)
}

func (c *AtomicCollector) TrackBytes(isWrite bool, n uint64) {
	if isWrite {
		c.bytesWritten.Add(n)
		return
	}
	c.bytesRead.Add(n)
}

func (c *AtomicCollector) TrackLogSize(live, dead uint64) {
	c.liveBytes.Store(live)
	c.deadBytes.Store(dead)
}

func (c *AtomicCollector) TrackSync()       { c.syncs.Add(1) }
func (c *AtomicCollector) TrackCompaction() { c.compactions.Add(1) }

// StartRecovery clears the previous replay figures
func (c *AtomicCollector) StartRecovery() time.Time {
	c.replayed.Store(0)
	c.recovered.Store(0)
	c.recoveryNs.Store(0)
	return c.now()
}

func (c *AtomicCollector) FinishRecovery(start time.Time, replayed, live uint64) {
	c.replayed.Store(replayed)
	c.recovered.Store(live)
	c.recoveryNs.Store(c.now().Sub(start).Nanoseconds())
}

// GetStats flattens the collector into the map served by the stats endpoints.
// Per-operation keys are <op>_ops, last_<op>_time and <op>_latency.
func (c *AtomicCollector) GetStats() map[string]interface{} {
	out := map[string]interface{}{
		"log_live_bytes":      c.liveBytes.Load(),
		"log_dead_bytes":      c.deadBytes.Load(),
		"total_bytes_read":    c.bytesRead.Load(),
		"total_bytes_written": c.bytesWritten.Load(),
		"sync_count":          c.syncs.Load(),
		"compaction_count":    c.compactions.Load(),
	}

	recovery := map[string]interface{}{
		"records_replayed": c.replayed.Load(),
		"live_records":     c.recovered.Load(),
	}
	if ns := c.recoveryNs.Load(); ns > 0 {
		recovery["recovery_duration_ms"] = ns / int64(time.Millisecond)
	}
	out["recovery"] = recovery

	c.mu.RLock()
	defer c.mu.RUnlock()

	for op, s := range c.ops {
		name := string(op)
		out[name+"_ops"] = s.count.Load()
		out["last_"+name+"_time"] = s.lastNs.Load()
		out[name+"_latency"] = s.latency()
	}

	errs := make(map[string]uint64, len(c.errors))
	for kind, n := range c.errors {
		errs[kind] = n.Load()
	}
	out["errors"] = errs
	return out
}
