package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"payline.org/internal/obs"
)

// GRPCServer serves the standard gRPC health protocol, reporting SERVING only
// while the readiness probe passes.
type GRPCServer struct {
	health    *health.Server
	readiness readinessChecker
	version   string
}

// NewGRPCServer creates the gRPC service wrapper.
func NewGRPCServer(r readinessChecker, version string) *GRPCServer {
	if r == nil {
		r = ReadyProbe{}
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(obs.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &GRPCServer{health: hs, readiness: r, version: version}
}

// Register attaches the health service to srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// Refresh runs the readiness probe once and publishes the result.
func (s *GRPCServer) Refresh(ctx context.Context) error {
	err := s.readiness.Check(ctx)
	st := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	obs.SetReady(err == nil)
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(obs.ServiceName, st)
	return err
}

// Run refreshes readiness every interval until ctx is done, then marks the
// service as shutting down so watchers see NOT_SERVING.
func (s *GRPCServer) Run(ctx context.Context, interval time.Duration) {
	obs.Logger().Info("grpc health service started", "service", obs.ServiceName, "version", s.version)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		if err := s.Refresh(checkCtx); err != nil && ctx.Err() == nil {
			obs.Logger().Warn("readiness check failed", "error", err)
		}
		cancel()
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

// UnaryLogging logs each unary call with its status code.
func UnaryLogging(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	obs.Logger().DebugContext(ctx, "grpc_complete",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration_ms", float64(time.Since(start).Microseconds())/1000,
	)
	return resp, err
}
