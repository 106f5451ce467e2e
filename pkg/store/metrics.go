// ABOUTME: Record store telemetry metrics interface for operation latency, outcomes, record sizes and faults
// ABOUTME: A no-op implementation is used when telemetry is disabled

package store

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/healthrec/pkg/telemetry"
)

// Metrics defines the interface for record store telemetry.
type Metrics interface {
	telemetry.ComponentMetrics

	// RecordOperation records one store operation and its outcome
	RecordOperation(ctx context.Context, op string, duration time.Duration, errType string)

	// RecordEncodedSize records the encoded size of a persisted record
	RecordEncodedSize(ctx context.Context, op string, bytes int)

	// RecordFault records the storage fault that disabled the store
	RecordFault(ctx context.Context, reason string)
}

type storeMetrics struct {
	tel telemetry.Telemetry
}

// NewMetrics creates store metrics backed by tel. If tel is nil, returns a no-op implementation.
func NewMetrics(tel telemetry.Telemetry) Metrics {
	if tel == nil {
		return &noopMetrics{}
	}
	return &storeMetrics{tel: tel}
}

// NewNoopMetrics creates a no-op metrics implementation
func NewNoopMetrics() Metrics {
	return &noopMetrics{}
}

func (m *storeMetrics) RecordOperation(ctx context.Context, op string, duration time.Duration, errType string) {
	status := telemetry.StatusSuccess
	if errType != "" {
		status = telemetry.StatusError
	}
	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
		attribute.String(telemetry.AttrOperationName, op),
		attribute.String(telemetry.AttrStatus, status),
	}
	if errType != "" {
		attrs = append(attrs, attribute.String(telemetry.AttrErrorType, errType))
	}

	telemetry.RecordSeconds(ctx, m.tel, "healthrec.store.operation.duration", duration, attrs...)
	m.tel.RecordCounter(ctx, "healthrec.store.operations.total", 1, attrs...)
}

func (m *storeMetrics) RecordEncodedSize(ctx context.Context, op string, bytes int) {
	m.tel.RecordHistogram(ctx, "healthrec.store.record.size", float64(bytes),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
		attribute.String(telemetry.AttrOperationName, op),
	)
}

func (m *storeMetrics) RecordFault(ctx context.Context, reason string) {
	m.tel.RecordCounter(ctx, "healthrec.store.fault.count", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
		attribute.String(telemetry.AttrReason, reason),
	)
}

func (m *storeMetrics) Close() error {
	return nil
}

type noopMetrics struct{}

func (n *noopMetrics) RecordOperation(ctx context.Context, op string, duration time.Duration, errType string) {
}

func (n *noopMetrics) RecordEncodedSize(ctx context.Context, op string, bytes int) {}

func (n *noopMetrics) RecordFault(ctx context.Context, reason string) {}

func (n *noopMetrics) Close() error { return nil }
