package metrics

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var grpcServerHandledTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chatlink_grpc_server_handled_total",
		Help: "Control-plane RPCs completed, by method and code.",
	},
	[]string{"grpc_service", "grpc_method", "grpc_code"},
)

func init() {
	prometheus.MustRegister(grpcServerHandledTotal)
}

// UnaryServerInterceptor counts every unary RPC by its status code.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		observeRPC(info.FullMethod, err)
		return resp, err
	}
}

// StreamServerInterceptor counts every streaming RPC by its status code.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		err := handler(srv, ss)
		observeRPC(info.FullMethod, err)
		return err
	}
}

func observeRPC(fullMethod string, err error) {
	service, method := splitFullMethod(fullMethod)
	grpcServerHandledTotal.WithLabelValues(service, method, status.Code(err).String()).Inc()
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}
