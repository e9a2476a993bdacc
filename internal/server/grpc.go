package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"gathering-marketplace/backend/internal/server/interceptors"
	"gathering-marketplace/backend/internal/telemetry"
)

const healthCheckMethod = "/grpc.health.v1.Health/Check"
const healthWatchMethod = "/grpc.health.v1.Health/Watch"

// Deps holds the dependencies of the gRPC server.
type Deps struct {
	// Authorizer validates Bearer tokens. Required.
	Authorizer interceptors.Authorizer
	// Metrics records RPC latency. If nil, no latency is recorded.
	Metrics *telemetry.Metrics
	// PublicMethods lists full method names reachable without a Bearer token. Health methods are
	// always public.
	PublicMethods []string
	// Permissions maps full method names to the permission the caller must hold.
	Permissions map[string]string
	// Reflection registers the reflection service (non-production only).
	Reflection bool
}

// NewGRPCServer builds a server with the otelgrpc stats handler, the metrics and auth
// interceptors and the standard health service. Callers register domain services on the
// returned server and drive health status through the returned *health.Server.
func NewGRPCServer(deps Deps, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	public := PublicSet(deps.PublicMethods)
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.MetricsUnary(deps.Metrics, map[string]bool{healthCheckMethod: true}),
			interceptors.AuthUnary(deps.Authorizer, public, deps.Permissions),
		),
	}
	srv := grpc.NewServer(append(base, opts...)...)
	hs := health.NewServer()
	RegisterServices(srv, hs, deps.Reflection)
	return srv, hs
}

// RegisterServices registers the health service (and reflection when enabled) with s.
func RegisterServices(s grpc.ServiceRegistrar, hs healthpb.HealthServer, withReflection bool) {
	healthpb.RegisterHealthServer(s, hs)
	if withReflection {
		if rs, ok := s.(reflection.GRPCServer); ok {
			reflection.Register(rs)
		}
	}
}

// PublicSet turns methods into the lookup set AuthUnary expects, adding the health methods.
func PublicSet(methods []string) map[string]bool {
	set := map[string]bool{healthCheckMethod: true, healthWatchMethod: true}
	for _, m := range methods {
		set[m] = true
	}
	return set
}
