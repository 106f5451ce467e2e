// ABOUTME: OpenTelemetry exporter factory for metric and trace exporters (Prometheus, OTLP/gRPC, stdout)
// ABOUTME: Translates the configured exporter names into SDK readers and span exporters

package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
)

// exportWriter receives stdout exporter output; tests replace it
var exportWriter io.Writer = os.Stdout

// createMetricReaders creates metric readers based on configuration. The
// prometheus exporter registers into the returned registry, which is nil when
// prometheus is not configured. Without a metric exporter, metrics go to stdout.
func createMetricReaders(cfg Config) ([]metric.Reader, *prometheus.Registry, error) {
	var (
		readers  []metric.Reader
		registry *prometheus.Registry
	)

	for _, exporterName := range cfg.Exporters {
		switch exporterName {
		case ExporterPrometheus:
			registry = prometheus.NewRegistry()
			exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
			if err != nil {
				return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
			}
			readers = append(readers, exporter)

		case ExporterStdout:
			reader, err := stdoutMetricReader(cfg)
			if err != nil {
				return nil, nil, err
			}
			readers = append(readers, reader)
		}
	}

	if len(readers) == 0 {
		reader, err := stdoutMetricReader(cfg)
		if err != nil {
			return nil, nil, err
		}
		readers = append(readers, reader)
	}
	return readers, registry, nil
}

func stdoutMetricReader(cfg Config) (metric.Reader, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(exportWriter))
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
	}
	return metric.NewPeriodicReader(exporter,
		metric.WithInterval(cfg.BatchTimeout),
		metric.WithTimeout(cfg.ExportTimeout),
	), nil
}

// MetricsHandler returns the Prometheus scrape handler of tel, or nil when
// tel does not export to prometheus.
func MetricsHandler(tel Telemetry) http.Handler {
	p, ok := tel.(*TelemetryProvider)
	if !ok || p.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// createTraceExporters creates trace exporters based on configuration.
func createTraceExporters(ctx context.Context, cfg Config) ([]trace.SpanExporter, error) {
	var exporters []trace.SpanExporter

	for _, exporterName := range cfg.Exporters {
		switch exporterName {
		case ExporterOTLP:
			exporter, err := createOTLPTraceExporter(ctx, cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
			}
			exporters = append(exporters, exporter)

		case ExporterStdout:
			exporter, err := stdouttrace.New(stdouttrace.WithWriter(exportWriter))
			if err != nil {
				return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
			}
			exporters = append(exporters, exporter)
		}
	}

	return exporters, nil
}

// createOTLPTraceExporter creates an OTLP/gRPC trace exporter.
func createOTLPTraceExporter(ctx context.Context, cfg Config) (trace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithTimeout(cfg.ExportTimeout),
	}
	if cfg.OTLPInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}
