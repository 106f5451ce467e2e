// ABOUTME: gRPC server telemetry: per-method latency and outcome metrics recorded by a unary interceptor
// ABOUTME: A recovery interceptor turns handler panics into Internal errors so one request cannot stop the server

package transport

import (
	"context"
	"path"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/KevoDB/healthrec/pkg/common/log"
	"github.com/KevoDB/healthrec/pkg/telemetry"
)

// Metrics defines the interface for gRPC server telemetry.
type Metrics interface {
	telemetry.ComponentMetrics

	// RecordRequest records one unary call and its status code
	RecordRequest(ctx context.Context, method string, duration time.Duration, code codes.Code)
}

type grpcMetrics struct {
	tel telemetry.Telemetry
}

// NewMetrics creates gRPC metrics backed by tel. If tel is nil, returns a no-op implementation.
func NewMetrics(tel telemetry.Telemetry) Metrics {
	if tel == nil {
		return &noopMetrics{}
	}
	return &grpcMetrics{tel: tel}
}

func (m *grpcMetrics) RecordRequest(ctx context.Context, method string, duration time.Duration, code codes.Code) {
	status := telemetry.StatusSuccess
	if code != codes.OK {
		status = telemetry.StatusError
	}
	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentGRPC),
		attribute.String(telemetry.AttrOperationName, method),
		attribute.String(telemetry.AttrStatus, status),
		attribute.String("grpc.code", code.String()),
	}
	telemetry.RecordSeconds(ctx, m.tel, "healthrec.grpc.request.duration", duration, attrs...)
	m.tel.RecordCounter(ctx, "healthrec.grpc.requests.total", 1, attrs...)
}

func (m *grpcMetrics) Close() error {
	return nil
}

type noopMetrics struct{}

func (n *noopMetrics) RecordRequest(ctx context.Context, method string, duration time.Duration, code codes.Code) {
}

func (n *noopMetrics) Close() error { return nil }

// TelemetryInterceptor wraps every unary call in a span and records its metrics
func TelemetryInterceptor(metrics Metrics, tel telemetry.Telemetry) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		method := path.Base(info.FullMethod)
		ctx, span := tel.StartSpan(ctx, "grpc."+method,
			attribute.String(telemetry.AttrComponent, telemetry.ComponentGRPC))
		defer span.End()

		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		if err != nil {
			span.RecordError(err)
		}
		metrics.RecordRequest(ctx, method, time.Since(start), code)
		return resp, err
	}
}

// RecoveryInterceptor converts a handler panic into an Internal error
func RecoveryInterceptor(logger log.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic in %s: %v\n%s", info.FullMethod, r, debug.Stack())
				err = status.Errorf(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
