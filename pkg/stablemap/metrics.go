// ABOUTME: Map telemetry metrics interface and implementation for tracking log appends, recovery and compaction
// ABOUTME: A no-op implementation is used when telemetry is disabled

package stablemap

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/healthrec/pkg/telemetry"
)

// Metrics defines the interface for map telemetry operations.
// All metrics are optional - implementations can safely be no-op.
type Metrics interface {
	telemetry.ComponentMetrics

	// RecordAppend records a log append for a put or delete
	RecordAppend(ctx context.Context, duration time.Duration, bytes int64, opType string)

	// RecordRecovery records the replay of the log on open
	RecordRecovery(ctx context.Context, duration time.Duration, records uint64, live int)

	// RecordCompaction records a completed compaction
	RecordCompaction(ctx context.Context, duration time.Duration, liveBytes, reclaimedBytes uint64, trigger string)

	// RecordCorruption records a header or log verification failure
	RecordCorruption(ctx context.Context, reason string)
}

type mapMetrics struct {
	tel telemetry.Telemetry
}

// NewMetrics creates a metrics implementation backed by tel.
// If tel is nil, returns a no-op implementation.
func NewMetrics(tel telemetry.Telemetry) Metrics {
	if tel == nil {
		return &noopMetrics{}
	}
	return &mapMetrics{tel: tel}
}

// NewNoopMetrics creates a no-op metrics implementation
func NewNoopMetrics() Metrics {
	return &noopMetrics{}
}

func (m *mapMetrics) RecordAppend(ctx context.Context, duration time.Duration, bytes int64, opType string) {
	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStableMap),
		attribute.String(telemetry.AttrOperationType, opType),
	}
	telemetry.RecordSeconds(ctx, m.tel, "healthrec.stablemap.append.duration", duration, attrs...)
	m.tel.RecordCounter(ctx, "healthrec.stablemap.append.bytes", bytes, attrs...)
}

func (m *mapMetrics) RecordRecovery(ctx context.Context, duration time.Duration, records uint64, live int) {
	attrs := attribute.String(telemetry.AttrComponent, telemetry.ComponentStableMap)
	telemetry.RecordSeconds(ctx, m.tel, "healthrec.stablemap.recovery.duration", duration, attrs)
	m.tel.RecordCounter(ctx, "healthrec.stablemap.recovery.records", int64(records), attrs)
	m.tel.RecordHistogram(ctx, "healthrec.stablemap.recovery.live_entries", float64(live), attrs)
}

func (m *mapMetrics) RecordCompaction(ctx context.Context, duration time.Duration, liveBytes, reclaimedBytes uint64, trigger string) {
	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStableMap),
		attribute.String(telemetry.AttrTrigger, trigger),
	}
	telemetry.RecordSeconds(ctx, m.tel, "healthrec.stablemap.compaction.duration", duration, attrs...)
	m.tel.RecordCounter(ctx, "healthrec.stablemap.compaction.count", 1, attrs...)
	m.tel.RecordCounter(ctx, "healthrec.stablemap.compaction.reclaimed_bytes", int64(reclaimedBytes), attrs...)
	m.tel.RecordHistogram(ctx, "healthrec.stablemap.compaction.live_bytes", float64(liveBytes), attrs...)
}

func (m *mapMetrics) RecordCorruption(ctx context.Context, reason string) {
	m.tel.RecordCounter(ctx, "healthrec.stablemap.corruption.count", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStableMap),
		attribute.String(telemetry.AttrReason, reason),
	)
}

func (m *mapMetrics) Close() error {
	return nil
}

type noopMetrics struct{}

func (n *noopMetrics) RecordAppend(ctx context.Context, duration time.Duration, bytes int64, opType string) {
}

func (n *noopMetrics) RecordRecovery(ctx context.Context, duration time.Duration, records uint64, live int) {
}

func (n *noopMetrics) RecordCompaction(ctx context.Context, duration time.Duration, liveBytes, reclaimedBytes uint64, trigger string) {
}

func (n *noopMetrics) RecordCorruption(ctx context.Context, reason string) {}

func (n *noopMetrics) Close() error { return nil }
