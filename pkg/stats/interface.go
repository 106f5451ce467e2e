package stats

import "time"

// Provider reports a point-in-time snapshot of counters keyed by name
type Provider interface {
	GetStats() map[string]interface{}
}

// Collector is fed by the record map and the store. Implementations must be
// safe for concurrent use; the store calls it outside its own lock.
type Collector interface {
	Provider

	// ObserveOperation counts one finished operation and how long it took
	ObserveOperation(op OperationType, latency time.Duration)
	TrackError(kind string)
	TrackBytes(isWrite bool, n uint64)

	// TrackLogSize replaces the live and dead byte counts of the record log
	TrackLogSize(live, dead uint64)
	TrackSync()
	TrackCompaction()

	StartRecovery() time.Time
	FinishRecovery(start time.Time, replayed, live uint64)
}

var _ Collector = (*AtomicCollector)(nil)
