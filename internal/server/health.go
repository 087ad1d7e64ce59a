// Package server exposes the engine's liveness over the standard gRPC health
// protocol.
package server

import (
	"context"
	"log"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the engine.
const ServiceName = "flowspectra.Engine"

// RunningReporter is implemented by *manager.Engine.
type RunningReporter interface {
	Running() bool
}

// HealthServer publishes SERVING while the engine runs and NOT_SERVING
// otherwise.
type HealthServer struct {
	engine   RunningReporter
	health   *health.Server
	grpc     *grpc.Server
	interval time.Duration
}

// NewHealthServer registers the health service on a fresh gRPC server.
func NewHealthServer(engine RunningReporter, interval time.Duration) *HealthServer {
	if interval <= 0 {
		interval = time.Second
	}
	s := &HealthServer{
		engine:   engine,
		health:   health.NewServer(),
		grpc:     grpc.NewServer(),
		interval: interval,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.refresh()
	return s
}

func (s *HealthServer) refresh() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.engine.Running() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", status)
}

// Serve answers health checks on lis and keeps the status in step with the
// engine until ctx is done. It returns nil after a graceful stop.
func (s *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.health.Shutdown()
				s.grpc.GracefulStop()
				return
			case <-ticker.C:
				s.refresh()
			}
		}
	}()

	log.Printf("gRPC health server starting on %s", lis.Addr())
	if err := s.grpc.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}
