package grpc_control

import (
	"context"
	"fmt"
	"net"
	"time"

	"flow-observer/src/interfaces"
	"flow-observer/src/logger"
	"flow-observer/src/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// OverallService is the health service name covering every engine.
const OverallService = ""

// ControlService exposes engine liveness over the standard gRPC health
// protocol, one service name per engine plus the overall "" entry.
type ControlService struct {
	Config  *models.MConfig
	Logger  *logger.Logger
	Health  *health.Server
	engines []interfaces.IEngine
	server  *grpc.Server
}

// NewControlService creates a new instance of ControlService
func NewControlService(cfg *models.MConfig, engines []interfaces.IEngine, log *logger.Logger) *ControlService {
	s := &ControlService{
		Config:  cfg,
		Logger:  log,
		Health:  health.NewServer(),
		engines: engines,
		server:  grpc.NewServer(),
	}
	healthpb.RegisterHealthServer(s.server, s.Health)
	s.Refresh()
	return s
}

// -----------------------------------------------------------------------------

// Refresh publishes the current running state of every engine.
func (s *ControlService) Refresh() {
	overall := healthpb.HealthCheckResponse_SERVING
	for _, e := range s.engines {
		status := healthpb.HealthCheckResponse_SERVING
		if !e.Health().Running {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = healthpb.HealthCheckResponse_NOT_SERVING
		}
		s.Health.SetServingStatus(e.Name(), status)
	}
	s.Health.SetServingStatus(OverallService, overall)
}

// -----------------------------------------------------------------------------

// Watch refreshes the statuses every interval until ctx is done.
func (s *ControlService) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh()
		}
	}
}

// -----------------------------------------------------------------------------

// Start listens on grpc_host:grpc_port and serves until Stop.
func (s *ControlService) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.GrpcHost, s.Config.GrpcPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen on %s: %w", addr, err)
	}
	s.Logger.Info("gRPC health service listening on %s", addr)
	return s.Serve(lis)
}

// -----------------------------------------------------------------------------

func (s *ControlService) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

// -----------------------------------------------------------------------------

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *ControlService) Stop() {
	s.Health.Shutdown()
	s.server.GracefulStop()
}
