// Package transport runs the PatientService over gRPC: server lifecycle, TLS,
// keepalive, interceptors and client-side retry.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"

	"github.com/KevoDB/healthrec/pkg/common/log"
	"github.com/KevoDB/healthrec/pkg/grpc/service"
	"github.com/KevoDB/healthrec/pkg/grpc/wire"
	"github.com/KevoDB/healthrec/pkg/telemetry"
)

// ErrServerStarted is returned when Serve is called twice
var ErrServerStarted = errors.New("server already started")

// ServerOptions configures a GRPCServer
type ServerOptions struct {
	TLSConfig      *tls.Config
	MaxRecvMsgSize int
	IdleTimeout    time.Duration
	Logger         log.Logger
	Telemetry      telemetry.Telemetry
}

// GRPCServer serves one PatientService
type GRPCServer struct {
	server  *grpc.Server
	logger  log.Logger
	mu      sync.Mutex
	started bool
}

// NewGRPCServer builds a server for impl. Messages always use the wire codec.
func NewGRPCServer(impl service.PatientServiceServer, opts ServerOptions) *GRPCServer {
	if opts.Logger == nil {
		opts.Logger = log.GetDefaultLogger()
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.NewNoop()
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	logger := opts.Logger.WithField("component", telemetry.ComponentGRPC)

	serverOpts := []grpc.ServerOption{
		grpc.ForceServerCodec(wire.Codec{}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     opts.IdleTimeout,
			MaxConnectionAge:      5 * time.Minute,
			MaxConnectionAgeGrace: 5 * time.Second,
			Time:                  15 * time.Second,
			Timeout:               5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(logger),
			TelemetryInterceptor(NewMetrics(opts.Telemetry), opts.Telemetry),
		),
	}
	if opts.TLSConfig != nil {
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(opts.TLSConfig)))
	}
	if opts.MaxRecvMsgSize > 0 {
		serverOpts = append(serverOpts, grpc.MaxRecvMsgSize(opts.MaxRecvMsgSize))
	}

	s := grpc.NewServer(serverOpts...)
	service.RegisterPatientServiceServer(s, impl)

	return &GRPCServer{server: s, logger: logger}
}

// Serve accepts connections on lis and blocks until the server stops
func (s *GRPCServer) Serve(lis net.Listener) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrServerStarted
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("gRPC server listening on %s", lis.Addr())
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("gRPC server failed: %w", err)
	}
	return nil
}

// ListenAndServe listens on the TCP address and serves
func (s *GRPCServer) ListenAndServe(address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	return s.Serve(lis)
}

// Stop stops the server gracefully, forcing it when ctx ends first
func (s *GRPCServer) Stop(ctx context.Context) error {
	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.logger.Warn("graceful stop timed out, closing connections")
		s.server.Stop()
		<-stopped
	}
	return nil
}
