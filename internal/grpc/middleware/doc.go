// Package middleware provides the gRPC server interceptors that surround the
// authentication interceptor: panic recovery, correlation ids, tracing,
// logging, metrics and rate limiting.
//
// Order matters. Recovery goes first so that panics anywhere are caught, and
// the correlation interceptor runs before anything that logs:
//
//	srv := grpc.NewServer(
//	    grpc.ChainUnaryInterceptor(
//	        middleware.UnaryRecoveryInterceptor(logger),
//	        middleware.UnaryCorrelationInterceptor(),
//	        middleware.UnaryTracingInterceptor(),
//	        middleware.UnaryLoggingInterceptor(logger),
//	        metrics.Unary(),
//	        limiter.Unary(),
//	        authInterceptor.Unary(),
//	    ),
//	)
package middleware
