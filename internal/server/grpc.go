package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/signalsfoundry/incident-simulator/internal/logging"
	"github.com/signalsfoundry/incident-simulator/internal/observability"
)

// ServiceName is the health-checked service that reflects whether the
// incident trigger is running.
const ServiceName = "incidentsim.Simulator"

// GRPC bundles the gRPC server with its health service.
type GRPC struct {
	Server *grpc.Server
	health *health.Server
}

// NewGRPC builds a gRPC server exposing grpc.health.v1.Health and reflection.
// Both services start NOT_SERVING; call SetServing once the simulation runs.
func NewGRPC(log logging.Logger, collector *observability.SimulatorCollector) *GRPC {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RequestIDUnaryServerInterceptor(log),
			TracingUnaryServerInterceptor(),
			collector.UnaryServerInterceptor(),
		),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return &GRPC{Server: srv, health: hs}
}

// SetServing flips both the overall and the simulator health status.
func (g *GRPC) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ServiceName, status)
}

// Shutdown marks everything NOT_SERVING and stops the server gracefully.
func (g *GRPC) Shutdown() {
	g.health.Shutdown()
	g.Server.GracefulStop()
}
