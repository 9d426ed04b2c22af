package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const serverTracerName = "tokengate/grpc"

// UnaryTracingInterceptor returns a unary server interceptor that continues
// the caller's trace and wraps the call in a server span.
func UnaryTracingInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		ctx, span := startServerSpan(ctx, info.FullMethod)
		defer span.End()

		resp, err := handler(ctx, req)
		finishServerSpan(span, err)

		return resp, err
	}
}

// StreamTracingInterceptor returns a stream server interceptor that continues
// the caller's trace and wraps the stream in a server span.
func StreamTracingInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		stream grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, span := startServerSpan(stream.Context(), info.FullMethod)
		defer span.End()

		err := handler(srv, &wrappedServerStream{ServerStream: stream, ctx: ctx})
		finishServerSpan(span, err)

		return err
	}
}

func startServerSpan(ctx context.Context, fullMethod string) (context.Context, trace.Span) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		ctx = otel.GetTextMapPropagator().Extract(ctx, metadataCarrier(md))
	}

	service, method := parseFullMethod(fullMethod)
	ctx, span := otel.Tracer(serverTracerName).Start(ctx, fullMethod,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
		),
	)

	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		span.SetAttributes(attribute.String("net.peer.name", p.Addr.String()))
	}

	return ctx, span
}

func finishServerSpan(span trace.Span, err error) {
	code := status.Code(err)
	span.SetAttributes(attribute.Int("rpc.grpc.status_code", int(code)))
	if err != nil {
		span.SetStatus(codes.Error, status.Convert(err).Message())
		span.RecordError(err)
	}
}

// metadataCarrier adapts metadata.MD to propagation.TextMapCarrier.
type metadataCarrier metadata.MD

// Get returns the first value for key.
func (m metadataCarrier) Get(key string) string {
	values := metadata.MD(m).Get(key)
	if len(values) > 0 {
		return values[0]
	}
	return ""
}

// Set sets key to value.
func (m metadataCarrier) Set(key, value string) {
	metadata.MD(m).Set(key, value)
}

// Keys returns all keys.
func (m metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

var _ propagation.TextMapCarrier = metadataCarrier(nil)
