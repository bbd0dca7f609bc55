package grpcserver

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health-check service name reported for the ledger.
const ServiceName = "yield.ledger.v1.Ledger"

const defaultProbeInterval = 15 * time.Second

// Probe reports whether the ledger backend is usable.
type Probe func(ctx context.Context) error

// HealthServer serves the standard gRPC health protocol for the ledger.
type HealthServer struct {
	grpcServer    *grpc.Server
	health        *health.Server
	probe         Probe
	probeInterval time.Duration
	logger        *zap.Logger
}

// Option customizes a HealthServer.
type Option func(*HealthServer)

// WithProbe flips the ledger service between SERVING and NOT_SERVING according to probe.
func WithProbe(probe Probe, interval time.Duration) Option {
	return func(server *HealthServer) {
		server.probe = probe
		if interval > 0 {
			server.probeInterval = interval
		}
	}
}

// NewHealthServer registers health and reflection services on a new grpc.Server.
func NewHealthServer(logger *zap.Logger, options ...Option) *HealthServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &HealthServer{
		grpcServer:    grpc.NewServer(),
		health:        health.NewServer(),
		probeInterval: defaultProbeInterval,
		logger:        logger,
	}
	for _, option := range options {
		option(server)
	}
	healthpb.RegisterHealthServer(server.grpcServer, server.health)
	reflection.Register(server.grpcServer)
	server.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return server
}

// Serve accepts connections on listener until ctx is cancelled, then marks
// every service NOT_SERVING and stops gracefully.
func (server *HealthServer) Serve(ctx context.Context, listener net.Listener) error {
	if server.probe != nil {
		go server.watch(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("gRPC health server starting", zap.String("listen_addr", listener.Addr().String()))
		errCh <- server.grpcServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		server.logger.Info("gRPC shutdown requested")
		server.health.Shutdown()
		server.grpcServer.GracefulStop()
		if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		if errors.Is(serveErr, grpc.ErrServerStopped) {
			return nil
		}
		return serveErr
	}
}

// CheckNow runs the probe once and updates the ledger serving status.
func (server *HealthServer) CheckNow(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if server.probe != nil {
		if err := server.probe(ctx); err != nil {
			server.logger.Warn("ledger probe failed", zap.Error(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	server.health.SetServingStatus(ServiceName, status)
	return status
}

func (server *HealthServer) watch(ctx context.Context) {
	ticker := time.NewTicker(server.probeInterval)
	defer ticker.Stop()
	server.CheckNow(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			server.CheckNow(ctx)
		}
	}
}
