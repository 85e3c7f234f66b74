package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// WorldServiceName is the gRPC health service name reported for the simulation.
const WorldServiceName = "idleverse.World"

// Probe reports whether a dependency is healthy. A nil error means serving.
type Probe func(ctx context.Context) error

// HealthService exposes the standard grpc.health.v1 service. The overall
// status and the WorldServiceName status follow the configured probe.
type HealthService struct {
	addr     string
	logger   *zap.Logger
	probe    Probe
	interval time.Duration

	grpcServer *grpc.Server
	health     *health.Server
	stop       chan struct{}
}

// NewHealthService creates a gRPC health endpoint.
//
// Precondition: addr must be a "host:port" listen address; logger must be non-nil.
// probe may be nil, in which case the service reports SERVING while running.
func NewHealthService(addr string, probe Probe, interval time.Duration, logger *zap.Logger) *HealthService {
	h := &HealthService{
		addr:       addr,
		logger:     logger,
		probe:      probe,
		interval:   interval,
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
		stop:       make(chan struct{}),
	}
	healthpb.RegisterHealthServer(h.grpcServer, h.health)
	h.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to an externally managed gRPC server.
// Tests use it with an in-memory listener.
func (h *HealthService) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.health)
}

// Start listens on the configured address and serves until Stop.
func (h *HealthService) Start() error {
	lis, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}
	h.logger.Info("gRPC health listening", zap.String("addr", lis.Addr().String()))
	h.Check(context.Background())
	if h.probe != nil && h.interval > 0 {
		go h.poll()
	}
	return h.grpcServer.Serve(lis)
}

// Stop reports NOT_SERVING and then drains in-flight RPCs until ctx expires.
func (h *HealthService) Stop(ctx context.Context) error {
	close(h.stop)
	h.health.Shutdown()
	done := make(chan struct{})
	go func() {
		h.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		h.grpcServer.Stop()
	}
	return nil
}

// Check runs the probe once and publishes the result.
func (h *HealthService) Check(ctx context.Context) {
	if h.probe == nil {
		h.setStatus(healthpb.HealthCheckResponse_SERVING)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.probe(ctx); err != nil {
		h.logger.Warn("health probe failed", zap.Error(err))
		h.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	h.setStatus(healthpb.HealthCheckResponse_SERVING)
}

func (h *HealthService) poll() {
	t := time.NewTicker(h.interval)
	defer t.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-t.C:
			h.Check(context.Background())
		}
	}
}

func (h *HealthService) setStatus(s healthpb.HealthCheckResponse_ServingStatus) {
	h.health.SetServingStatus("", s)
	h.health.SetServingStatus(WorldServiceName, s)
}
