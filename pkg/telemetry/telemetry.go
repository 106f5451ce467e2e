// ABOUTME: Telemetry is the narrow OpenTelemetry facade every healthrec layer records through
// ABOUTME: NewNoop is the default so that stores and servers run with observability switched off

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry records instruments by name and opens spans. Instruments are
// created lazily on first use.
type Telemetry interface {
	RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue)
	RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue)
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)

	// Shutdown flushes pending exports
	Shutdown(ctx context.Context) error
}

// ComponentMetrics is implemented by the per-package metrics wrappers
type ComponentMetrics interface {
	Close() error
}

// NoopTelemetry drops everything
type NoopTelemetry struct{}

func NewNoop() Telemetry {
	return &NoopTelemetry{}
}

func (n *NoopTelemetry) RecordHistogram(context.Context, string, float64, ...attribute.KeyValue) {}

func (n *NoopTelemetry) RecordCounter(context.Context, string, int64, ...attribute.KeyValue) {}

// StartSpan hands back whatever span ctx already carries, so callers can
// always End the result.
func (n *NoopTelemetry) StartSpan(ctx context.Context, _ string, _ ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx, trace.SpanFromContext(ctx)
}

func (n *NoopTelemetry) Shutdown(context.Context) error { return nil }

// RecordSeconds records d on the histogram name in seconds
func RecordSeconds(ctx context.Context, tel Telemetry, name string, d time.Duration, attrs ...attribute.KeyValue) {
	tel.RecordHistogram(ctx, name, d.Seconds(), attrs...)
}

// Attribute keys shared by all components
const (
	AttrOperationType = "operation.type"
	AttrOperationName = "operation.name"
	AttrComponent     = "component"
	AttrStatus        = "status"
	AttrErrorType     = "error.type"
	AttrRecordID      = "record.id"
	AttrReason        = "reason"
	AttrTrigger       = "trigger"
)

const (
	// record log entry kinds
	OpTypePut    = "put"
	OpTypeDelete = "delete"

	StatusSuccess = "success"
	StatusError   = "error"

	ComponentStore     = "store"
	ComponentStableMap = "stablemap"
	ComponentRegion    = "region"
	ComponentEngine    = "engine"
	ComponentGRPC      = "grpc"
	ComponentHTTP      = "http"
)
