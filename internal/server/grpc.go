package server

import (
	"time"

	"github.com/alfredjeanlab/pipeflow/internal/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

// maxRequestBytes bounds a single validation request.
const maxRequestBytes = 16 << 20

// NewGRPCServer returns a gRPC server exposing the validator service, the
// standard health service and reflection. An empty authToken disables
// authentication.
func NewGRPCServer(s *PipelineServer, authToken string) *grpc.Server {
	srv := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxRequestBytes),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			UnaryRecovery(s.logger),
			UnaryLogging(s.logger),
			UnaryAuth(authToken),
		),
	)

	rpc.RegisterValidatorServer(srv, s)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	reflection.Register(srv)
	return srv
}
