package server

import (
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/vyrodovalexey/tokengate/internal/observability"
)

// Option is a functional option for configuring the gRPC server.
type Option func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAddress overrides the configured listen address.
func WithAddress(addr string) Option {
	return func(s *Server) {
		s.address = addr
	}
}

// WithListener serves on ln instead of opening a TCP listener.
func WithListener(ln net.Listener) Option {
	return func(s *Server) {
		s.listener = ln
	}
}

// WithService registers a service when the server starts.
func WithService(desc *grpc.ServiceDesc, impl interface{}) Option {
	return func(s *Server) {
		s.services = append(s.services, service{desc: desc, impl: impl})
	}
}

// WithMaxConcurrentStreams sets the maximum number of concurrent streams per connection.
func WithMaxConcurrentStreams(n uint32) Option {
	return func(s *Server) {
		s.maxConcurrentStreams = n
	}
}

// WithMaxRecvMsgSize sets the maximum message size the server can receive.
func WithMaxRecvMsgSize(size int) Option {
	return func(s *Server) {
		s.maxRecvMsgSize = size
	}
}

// WithMaxSendMsgSize sets the maximum message size the server can send.
func WithMaxSendMsgSize(size int) Option {
	return func(s *Server) {
		s.maxSendMsgSize = size
	}
}

// WithKeepaliveParams sets the keepalive parameters for the server.
func WithKeepaliveParams(kp keepalive.ServerParameters) Option {
	return func(s *Server) {
		s.keepaliveParams = &kp
	}
}

// WithUnaryInterceptors appends unary interceptors. They run in the order given.
func WithUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) Option {
	return func(s *Server) {
		s.unaryInterceptors = append(s.unaryInterceptors, interceptors...)
	}
}

// WithStreamInterceptors appends stream interceptors. They run in the order given.
func WithStreamInterceptors(interceptors ...grpc.StreamServerInterceptor) Option {
	return func(s *Server) {
		s.streamInterceptors = append(s.streamInterceptors, interceptors...)
	}
}

// WithReflection enables the gRPC reflection service.
func WithReflection(enabled bool) Option {
	return func(s *Server) {
		s.reflectionEnabled = enabled
	}
}

// WithHealthService enables the gRPC health service.
func WithHealthService(enabled bool) Option {
	return func(s *Server) {
		s.healthServiceEnabled = enabled
	}
}

// WithConnectionTimeout sets the connection timeout.
func WithConnectionTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.connectionTimeout = timeout
	}
}

// WithGracefulStopTimeout sets the graceful stop timeout.
func WithGracefulStopTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.gracefulStopTimeout = timeout
	}
}
