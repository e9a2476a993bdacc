package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"gathering-marketplace/backend/internal/telemetry"
)

// MetricsUnary returns a unary server interceptor that records each RPC's latency under its full
// method name. If metrics is nil, the interceptor no-ops.
// skipMethods is the set of full method names to not record (e.g. health checks).
func MetricsUnary(metrics *telemetry.Metrics, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if metrics == nil || skipMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		start := time.Now()
		resp, err := handler(ctx, req)
		metrics.ObserveDuration(info.FullMethod, time.Since(start))
		return resp, err
	}
}
