// Package health exposes the standard gRPC health service so orchestrators
// can probe the relay without going through HTTP.
package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the name registered for relay submission readiness. The empty
// service name reports overall process health.
const Service = "mintrelay.Relay"

// Check returns nil when a dependency is usable.
type Check func(ctx context.Context) error

type Server struct {
	hs     *grpchealth.Server
	grpc   *grpc.Server
	checks map[string]Check
	log    *zap.Logger
}

// New builds a health server. relayerConfigured decides the initial status
// of Service; checks are polled by Run and must all pass for SERVING.
func New(relayerConfigured bool, checks map[string]Check, log *zap.Logger) *Server {
	s := &Server{
		hs:     grpchealth.NewServer(),
		grpc:   grpc.NewServer(),
		checks: checks,
		log:    log,
	}
	s.hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	if relayerConfigured {
		s.hs.SetServingStatus(Service, healthpb.HealthCheckResponse_SERVING)
	} else {
		s.hs.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	healthpb.RegisterHealthServer(s.grpc, s.hs)
	return s
}

// Health returns the underlying health service for in-process callers.
func (s *Server) Health() healthpb.HealthServer { return s.hs }

// Serve blocks serving gRPC on port.
func (s *Server) Serve(port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("health: listen: %w", err)
	}
	s.log.Info("gRPC health server starting", zap.Int("port", port))
	return s.grpc.Serve(lis)
}

// Probe runs every check once and updates the overall status.
func (s *Server) Probe(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.log.Warn("Probe: check failed", zap.String("check", name), zap.Error(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.hs.SetServingStatus("", status)
}

// Run probes every interval until ctx is cancelled.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

// Stop marks everything NOT_SERVING and drains the gRPC server.
func (s *Server) Stop() {
	s.hs.Shutdown()
	s.grpc.GracefulStop()
}
