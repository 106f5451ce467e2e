// ABOUTME: HTTP API telemetry: request latency and status metrics per route
// ABOUTME: A no-op implementation is used when telemetry is disabled

package httpapi

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/healthrec/pkg/telemetry"
)

// Metrics defines the interface for HTTP API telemetry.
type Metrics interface {
	telemetry.ComponentMetrics

	// RecordRequest records one request, keyed by route pattern rather than path
	RecordRequest(ctx context.Context, method, route string, status int, duration time.Duration)
}

type httpMetrics struct {
	tel telemetry.Telemetry
}

// NewMetrics creates HTTP metrics backed by tel. If tel is nil, returns a no-op implementation.
func NewMetrics(tel telemetry.Telemetry) Metrics {
	if tel == nil {
		return &noopMetrics{}
	}
	return &httpMetrics{tel: tel}
}

func (m *httpMetrics) RecordRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	outcome := telemetry.StatusSuccess
	if status >= 500 {
		outcome = telemetry.StatusError
	}
	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentHTTP),
		attribute.String(telemetry.AttrOperationName, method+" "+route),
		attribute.String(telemetry.AttrStatus, outcome),
		attribute.String("http.status_code", strconv.Itoa(status)),
	}
	telemetry.RecordSeconds(ctx, m.tel, "healthrec.http.request.duration", duration, attrs...)
	m.tel.RecordCounter(ctx, "healthrec.http.requests.total", 1, attrs...)
}

func (m *httpMetrics) Close() error {
	return nil
}

type noopMetrics struct{}

func (n *noopMetrics) RecordRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
}

func (n *noopMetrics) Close() error { return nil }
