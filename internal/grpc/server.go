package grpc

import (
	"fmt"
	"net"

	"github.com/oriys/pulsar/internal/cluster"
	"github.com/oriys/pulsar/internal/logging"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server exposes a peer's served actions over gRPC, together with the
// standard health and reflection services.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
}

// NewServer creates a gRPC server for peer. Extra options are appended to
// the defaults.
func NewServer(peer *cluster.Server, opts ...grpc.ServerOption) *Server {
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			loggingInterceptor,
			errorHandlingInterceptor,
		),
	}
	grpcServer := grpc.NewServer(append(base, opts...)...)

	peer.RegisterGRPC(grpcServer)

	// Register health service
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	// Enable reflection for debugging
	reflection.Register(grpcServer)

	return &Server{
		grpcServer: grpcServer,
		health:     healthServer,
	}
}

// Start listens on address and serves in the background.
func (s *Server) Start(address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = lis
	logging.Op().Info("gRPC server started", "address", lis.Addr().String())

	go func() {
		if err := s.Serve(lis); err != nil {
			logging.Op().Error("gRPC server error", "error", err)
		}
	}()
	return nil
}

// Serve blocks serving lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Addr returns the listening address once started.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop marks the server not serving and stops it gracefully.
func (s *Server) Stop() {
	if s.grpcServer != nil {
		logging.Op().Info("stopping gRPC server")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}
}
