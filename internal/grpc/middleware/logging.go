package middleware

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/vyrodovalexey/tokengate/internal/observability"
)

// UnaryLoggingInterceptor returns a unary server interceptor that logs each
// completed call. Methods listed in skip are not logged.
func UnaryLoggingInterceptor(logger observability.Logger, skip ...string) grpc.UnaryServerInterceptor {
	skipped := methodSet(skip)

	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if _, ok := skipped[info.FullMethod]; ok {
			return handler(ctx, req)
		}

		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(ctx, logger, info.FullMethod, err, time.Since(start))

		return resp, err
	}
}

// StreamLoggingInterceptor returns a stream server interceptor that logs each
// completed stream. Methods listed in skip are not logged.
func StreamLoggingInterceptor(logger observability.Logger, skip ...string) grpc.StreamServerInterceptor {
	skipped := methodSet(skip)

	return func(
		srv interface{},
		stream grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if _, ok := skipped[info.FullMethod]; ok {
			return handler(srv, stream)
		}

		start := time.Now()
		err := handler(srv, stream)
		logCall(stream.Context(), logger, info.FullMethod, err, time.Since(start))

		return err
	}
}

func logCall(ctx context.Context, logger observability.Logger, method string, err error, latency time.Duration) {
	fields := []observability.Field{
		observability.String("method", method),
		observability.Duration("latency", latency),
		observability.String("grpc_code", status.Code(err).String()),
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		fields = append(fields, observability.String("peer", p.Addr.String()))
	}

	l := logger.WithContext(ctx)
	if err != nil {
		l.Warn("gRPC call failed", append(fields, observability.Error(err))...)
		return
	}
	l.Info("gRPC call completed", fields...)
}

func methodSet(methods []string) map[string]struct{} {
	set := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		set[m] = struct{}{}
	}
	return set
}
