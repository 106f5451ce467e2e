// ABOUTME: Engine-level telemetry for startup, memory footprint, backup and restore
// ABOUTME: A no-op implementation is used when telemetry is disabled

package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/healthrec/pkg/telemetry"
)

// EngineMetrics defines the interface for engine-level telemetry
type EngineMetrics interface {
	telemetry.ComponentMetrics

	// Component initialization
	RecordComponentInitialization(ctx context.Context, component string, duration time.Duration, success bool)
	RecordStartupMetrics(ctx context.Context, totalStartupTime time.Duration, componentCount int64)

	// Resource monitoring
	RecordMemorySize(ctx context.Context, pages uint64)

	// Durability tooling
	RecordBackup(ctx context.Context, codec string, duration time.Duration, bytes int64, success bool)
	RecordRestore(ctx context.Context, duration time.Duration, success bool)
}

// engineMetrics implements EngineMetrics using the telemetry interface
type engineMetrics struct {
	tel telemetry.Telemetry
}

// NewEngineMetrics creates a new EngineMetrics instance
func NewEngineMetrics(tel telemetry.Telemetry) EngineMetrics {
	if tel == nil {
		return &noopEngineMetrics{}
	}
	return &engineMetrics{tel: tel}
}

// NewNoopEngineMetrics creates a no-op EngineMetrics for testing or when telemetry is disabled
func NewNoopEngineMetrics() EngineMetrics {
	return &noopEngineMetrics{}
}

// RecordComponentInitialization records component startup metrics
func (m *engineMetrics) RecordComponentInitialization(ctx context.Context, component string, duration time.Duration, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, component),
		attribute.String(telemetry.AttrStatus, status(success)),
	}
	telemetry.RecordSeconds(ctx, m.tel, "healthrec.engine.component.init.duration", duration, attrs...)
}

// RecordStartupMetrics records overall engine startup
func (m *engineMetrics) RecordStartupMetrics(ctx context.Context, totalStartupTime time.Duration, componentCount int64) {
	telemetry.RecordSeconds(ctx, m.tel, "healthrec.engine.startup.duration", totalStartupTime,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine))
	m.tel.RecordCounter(ctx, "healthrec.engine.components.initialized", componentCount,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine))
}

// RecordMemorySize records the size of the flat memory in pages
func (m *engineMetrics) RecordMemorySize(ctx context.Context, pages uint64) {
	m.tel.RecordHistogram(ctx, "healthrec.engine.memory.pages", float64(pages),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine))
}

// RecordBackup records one snapshot written by Backup
func (m *engineMetrics) RecordBackup(ctx context.Context, codec string, duration time.Duration, bytes int64, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine),
		attribute.String("codec", codec),
		attribute.String(telemetry.AttrStatus, status(success)),
	}
	telemetry.RecordSeconds(ctx, m.tel, "healthrec.engine.backup.duration", duration, attrs...)
	if success {
		m.tel.RecordCounter(ctx, "healthrec.engine.backup.bytes", bytes, attrs...)
	}
}

// RecordRestore records one snapshot restore
func (m *engineMetrics) RecordRestore(ctx context.Context, duration time.Duration, success bool) {
	telemetry.RecordSeconds(ctx, m.tel, "healthrec.engine.restore.duration", duration,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine),
		attribute.String(telemetry.AttrStatus, status(success)))
}

func (m *engineMetrics) Close() error {
	return nil
}

func status(success bool) string {
	if success {
		return telemetry.StatusSuccess
	}
	return telemetry.StatusError
}

type noopEngineMetrics struct{}

func (n *noopEngineMetrics) RecordComponentInitialization(ctx context.Context, component string, duration time.Duration, success bool) {
}
func (n *noopEngineMetrics) RecordStartupMetrics(ctx context.Context, totalStartupTime time.Duration, componentCount int64) {
}
func (n *noopEngineMetrics) RecordMemorySize(ctx context.Context, pages uint64) {}
func (n *noopEngineMetrics) RecordBackup(ctx context.Context, codec string, duration time.Duration, bytes int64, success bool) {
}
func (n *noopEngineMetrics) RecordRestore(ctx context.Context, duration time.Duration, success bool) {}
func (n *noopEngineMetrics) Close() error                                                          { return nil }
