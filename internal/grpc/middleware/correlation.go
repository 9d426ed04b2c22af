package middleware

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/vyrodovalexey/tokengate/internal/observability"
)

// CorrelationIDHeader is the metadata key carrying the correlation id.
const CorrelationIDHeader = "x-request-id"

// UnaryCorrelationInterceptor returns a unary server interceptor that assigns
// every call a correlation id and echoes it in the response header.
func UnaryCorrelationInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		_ *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		ctx, id := ensureCorrelationID(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(CorrelationIDHeader, id))
		return handler(ctx, req)
	}
}

// StreamCorrelationInterceptor returns a stream server interceptor that
// assigns every stream a correlation id.
func StreamCorrelationInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		stream grpc.ServerStream,
		_ *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, id := ensureCorrelationID(stream.Context())
		_ = stream.SetHeader(metadata.Pairs(CorrelationIDHeader, id))
		return handler(srv, &wrappedServerStream{ServerStream: stream, ctx: ctx})
	}
}

// ensureCorrelationID reuses the caller supplied id when present and
// generates one otherwise.
func ensureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := observability.CorrelationIDFromContext(ctx); id != "" {
		return ctx, id
	}

	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(CorrelationIDHeader); len(values) > 0 && values[0] != "" {
			return observability.ContextWithCorrelationID(ctx, values[0]), values[0]
		}
	}

	id := uuid.New().String()
	return observability.ContextWithCorrelationID(ctx, id), id
}

// wrappedServerStream wraps a grpc.ServerStream with a derived context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the derived context.
func (s *wrappedServerStream) Context() context.Context {
	return s.ctx
}
