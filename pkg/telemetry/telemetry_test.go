// ABOUTME: Tests for the no-op telemetry and the duration helper
// ABOUTME: Components must be able to run with telemetry disabled

package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNoopTelemetry(t *testing.T) {
	tel := NewNoop()
	ctx := context.Background()

	tel.RecordHistogram(ctx, "test.histogram", 1.5, attribute.String("key", "value"))
	tel.RecordCounter(ctx, "test.counter", 10, attribute.String("key", "value"))

	spanCtx, span := tel.StartSpan(ctx, "test.span", attribute.String("test", "value"))
	assert.NotNil(t, spanCtx)
	require.NotNil(t, span)
	assert.False(t, span.IsRecording())
	span.End()

	assert.NoError(t, tel.Shutdown(ctx))
}

func TestRecordSeconds(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	p, err := newProvider(enabledConfig(), []sdkmetric.Reader{reader}, nil)
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	ctx := context.Background()
	RecordSeconds(ctx, p, "healthrec.helper.duration", 10*time.Millisecond)
	RecordSeconds(ctx, p, "healthrec.helper.duration", 30*time.Millisecond)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	m, ok := findMetric(rm, "healthrec.helper.duration")
	require.True(t, ok)
	hist := m.Data.(metricdata.Histogram[float64])
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
	assert.InDelta(t, 0.04, hist.DataPoints[0].Sum, 1e-9)
}
