// Package grpcapi hosts the gRPC surface: health checking and reflection.
package grpcapi

import (
	"context"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"transcription-stream-service/internal/observability"
	"transcription-stream-service/internal/observability/logging"
	"transcription-stream-service/internal/observability/metrics"
)

// ServiceName is the health-checked service name besides the empty one.
const ServiceName = "transcription.stream.TranscriptionService"

type Server struct {
	addr   string
	grpc   *grpc.Server
	health *health.Server
	log    zerolog.Logger
}

// New builds the gRPC server with logging and metrics interceptors.
// Both health entries start NOT_SERVING until Serve is called.
func New(addr string, m *metrics.Metrics) *Server {
	g := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	// grpcurl and friends
	reflection.Register(g)

	return &Server{
		addr:   addr,
		grpc:   g,
		health: hs,
		log:    logging.WithComponent("grpc"),
	}
}

// ListenAndServe listens on the configured address and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve marks the service SERVING and blocks serving lis.
func (s *Server) Serve(lis net.Listener) error {
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	s.log.Info().Str("addr", lis.Addr().String()).Msg("gRPC server started")
	return s.grpc.Serve(lis)
}

// Shutdown flips health to NOT_SERVING and stops gracefully, forcing the stop
// when ctx ends first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down gRPC server")
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.grpc.Stop()
		return ctx.Err()
	}
}
