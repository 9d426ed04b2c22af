package middleware

import (
	"context"
	"runtime/debug"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vyrodovalexey/tokengate/internal/observability"
)

// UnaryRecoveryInterceptor returns a unary server interceptor that turns
// handler panics into Internal errors.
func UnaryRecoveryInterceptor(logger observability.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recovered(ctx, logger, info.FullMethod, r)
			}
		}()

		return handler(ctx, req)
	}
}

// StreamRecoveryInterceptor returns a stream server interceptor that turns
// handler panics into Internal errors.
func StreamRecoveryInterceptor(logger observability.Logger) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		stream grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recovered(stream.Context(), logger, info.FullMethod, r)
			}
		}()

		return handler(srv, stream)
	}
}

func recovered(ctx context.Context, logger observability.Logger, method string, r interface{}) error {
	logger.WithContext(ctx).Error("panic recovered in gRPC handler",
		observability.String("method", method),
		observability.Any("panic", r),
		observability.String("stack", string(debug.Stack())),
	)
	return status.Error(codes.Internal, "internal server error")
}
