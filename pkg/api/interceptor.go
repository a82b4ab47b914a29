package api

import (
	"context"
	"strings"

	"github.com/cuemby/claimd/pkg/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ReadOnlyInterceptor rejects every method that changes state. It guards
// listeners that serve dashboards and other read-only consumers.
func ReadOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !isReadOnlyMethod(info.FullMethod) {
			return nil, status.Errorf(codes.PermissionDenied, "%s is not allowed on a read-only listener", info.FullMethod)
		}
		return handler(ctx, req)
	}
}

// MetricsInterceptor counts and times every unary call
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		method := methodName(info.FullMethod)
		timer := metrics.NewTimer()
		resp, err := handler(ctx, req)
		timer.ObserveDurationVec(metrics.APIRequestDuration, method)
		metrics.APIRequestsTotal.WithLabelValues(method, status.Code(err).String()).Inc()
		return resp, err
	}
}

// methodName strips the service from a full method, e.g.
// "/claimd.RADB/GetTasks" -> "GetTasks"
func methodName(full string) string {
	parts := strings.Split(full, "/")
	return parts[len(parts)-1]
}

func isReadOnlyMethod(method string) bool {
	name := methodName(method)
	if name == "" {
		return false
	}
	return strings.HasPrefix(name, "Get")
}
