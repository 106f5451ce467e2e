package main

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/KevoDB/healthrec/pkg/common/log"
	"github.com/KevoDB/healthrec/pkg/config"
	"github.com/KevoDB/healthrec/pkg/engine"
	"github.com/KevoDB/healthrec/pkg/grpc/service"
	"github.com/KevoDB/healthrec/pkg/grpc/transport"
	"github.com/KevoDB/healthrec/pkg/httpapi"
	"github.com/KevoDB/healthrec/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the store over gRPC and HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadServerConfig(configPath)
		if err != nil {
			return err
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

// newLogger builds the process logger from the log section
func newLogger(cfg config.LogConfig) (*log.StandardLogger, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format, err := log.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	return log.NewStandardLogger(log.WithLevel(level), log.WithFormat(format)), nil
}

// serve runs the configured servers until ctx is done or one of them fails
func serve(ctx context.Context, cfg *config.ServerConfig) error {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	log.SetDefaultLogger(logger)

	tel, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GRPC.ShutdownGrace)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown: %v", err)
		}
	}()

	eng, err := engine.Open(cfg.DataDir, engine.WithLogger(logger), engine.WithTelemetry(tel))
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Error("failed to close store: %v", err)
		}
	}()

	info := eng.Info()
	logger.WithFields(map[string]interface{}{
		"store_id": info.StoreID,
		"records":  info.Records,
		"last_id":  info.LastID,
	}).Info("opened store in %s", cfg.DataDir)

	g, gctx := errgroup.WithContext(ctx)

	var grpcServer *transport.GRPCServer
	if cfg.GRPC.Enabled {
		var tlsConfig *tls.Config
		if cfg.TLS.Enabled {
			tlsConfig, err = transport.LoadServerTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile)
			if err != nil {
				return err
			}
		}

		impl := service.NewPatientService(eng.Store(), service.WithLogger(logger))
		grpcServer = transport.NewGRPCServer(impl, transport.ServerOptions{
			TLSConfig:      tlsConfig,
			MaxRecvMsgSize: cfg.GRPC.MaxRecvMsgSize,
			IdleTimeout:    cfg.GRPC.IdleTimeout,
			Logger:         logger,
			Telemetry:      tel,
		})
		g.Go(func() error {
			return grpcServer.ListenAndServe(cfg.GRPC.Address)
		})
	}

	var httpServer *httpapi.Server
	if cfg.HTTP.Enabled {
		httpServer = httpapi.New(eng.Store(), httpapi.Options{
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
			Logger:       logger,
			Telemetry:    tel,
			Info:         func() any { return eng.Info() },
		})
		g.Go(func() error {
			return httpServer.Listen(cfg.HTTP.Address)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GRPC.ShutdownGrace)
		defer cancel()

		var errs []error
		if grpcServer != nil {
			errs = append(errs, grpcServer.Stop(shutdownCtx))
		}
		if httpServer != nil {
			errs = append(errs, httpServer.Shutdown(shutdownCtx))
		}
		for _, err := range errs {
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
