package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/vyrodovalexey/tokengate/internal/config"
	"github.com/vyrodovalexey/tokengate/internal/observability"
)

// State represents the server state.
type State int32

const (
	// StateStopped indicates the server is stopped.
	StateStopped State = iota
	// StateStarting indicates the server is starting.
	StateStarting
	// StateRunning indicates the server is running.
	StateRunning
	// StateStopping indicates the server is stopping.
	StateStopping
)

// Default server configuration constants.
const (
	// DefaultMaxConcurrentStreams is the default maximum number of concurrent streams per connection.
	DefaultMaxConcurrentStreams = 100

	// DefaultMaxMsgSize is the default maximum message size in bytes (4MB).
	DefaultMaxMsgSize = 4 * 1024 * 1024

	// DefaultConnectionTimeout is the default connection timeout.
	DefaultConnectionTimeout = 120 * time.Second

	// DefaultGracefulStopTimeout is the default timeout for graceful server shutdown.
	DefaultGracefulStopTimeout = 30 * time.Second
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// service is a registration applied when the server starts.
type service struct {
	desc *grpc.ServiceDesc
	impl interface{}
}

// Server is the tokengate gRPC server.
type Server struct {
	address              string
	maxConcurrentStreams uint32
	maxRecvMsgSize       int
	maxSendMsgSize       int
	keepaliveParams      *keepalive.ServerParameters
	connectionTimeout    time.Duration
	gracefulStopTimeout  time.Duration

	unaryInterceptors  []grpc.UnaryServerInterceptor
	streamInterceptors []grpc.StreamServerInterceptor
	services           []service

	reflectionEnabled    bool
	healthServiceEnabled bool
	healthServer         *health.Server

	grpcServer *grpc.Server
	listener   net.Listener
	logger     observability.Logger
	state      atomic.Int32
	startTime  time.Time
}

// New creates a server from cfg. Options override configuration values.
func New(cfg *config.ServerConfig, opts ...Option) (*Server, error) {
	s := &Server{
		logger:               observability.NopLogger(),
		maxConcurrentStreams: DefaultMaxConcurrentStreams,
		maxRecvMsgSize:       DefaultMaxMsgSize,
		maxSendMsgSize:       DefaultMaxMsgSize,
		connectionTimeout:    DefaultConnectionTimeout,
		gracefulStopTimeout:  DefaultGracefulStopTimeout,
		healthServiceEnabled: true,
	}

	if cfg != nil {
		s.address = cfg.Address
		s.reflectionEnabled = cfg.Reflection
		s.healthServiceEnabled = cfg.HealthCheck
		if cfg.GracefulStopTimeout > 0 {
			s.gracefulStopTimeout = cfg.GracefulStopTimeout.Duration()
		}
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.address == "" && s.listener == nil {
		return nil, fmt.Errorf("server address is required")
	}

	s.state.Store(int32(StateStopped))

	return s, nil
}

// Start builds the gRPC server, registers services and starts serving in the
// background.
func (s *Server) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("server is not in stopped state, current state: %s", State(s.state.Load()))
	}

	s.grpcServer = grpc.NewServer(s.buildServerOptions()...)

	for _, svc := range s.services {
		s.grpcServer.RegisterService(svc.desc, svc.impl)
	}

	if s.healthServiceEnabled {
		s.healthServer = health.NewServer()
		healthpb.RegisterHealthServer(s.grpcServer, s.healthServer)
		s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		for _, svc := range s.services {
			s.healthServer.SetServingStatus(svc.desc.ServiceName, healthpb.HealthCheckResponse_SERVING)
		}
	}

	if s.reflectionEnabled {
		reflection.Register(s.grpcServer)
	}

	if s.listener == nil {
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", s.address)
		if err != nil {
			s.state.Store(int32(StateStopped))
			return fmt.Errorf("failed to listen on %s: %w", s.address, err)
		}
		s.listener = ln
	}

	s.startTime = time.Now()
	s.state.Store(int32(StateRunning))

	s.logger.Info("gRPC server started",
		observability.String("address", s.listener.Addr().String()),
		observability.Int("services", len(s.services)),
		observability.Bool("reflection", s.reflectionEnabled),
		observability.Bool("health", s.healthServiceEnabled),
	)

	go s.serve()

	return nil
}

func (s *Server) serve() {
	if err := s.grpcServer.Serve(s.listener); err != nil {
		if s.state.Load() != int32(StateStopping) && s.state.Load() != int32(StateStopped) {
			s.logger.Error("gRPC server error",
				observability.String("address", s.address),
				observability.Error(err),
			)
		}
	}
}

// Stop stops the server immediately.
func (s *Server) Stop(_ context.Context) error {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return nil
	}

	if s.healthServer != nil {
		s.healthServer.Shutdown()
	}

	s.grpcServer.Stop()
	s.state.Store(int32(StateStopped))

	s.logger.Info("gRPC server stopped")

	return nil
}

// GracefulStop drains in-flight calls, forcing a stop when ctx expires or,
// without a deadline, after the graceful stop timeout.
func (s *Server) GracefulStop(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return nil
	}

	s.logger.Info("gracefully stopping gRPC server")

	if s.healthServer != nil {
		s.healthServer.Shutdown()
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.gracefulStopTimeout)
		defer cancel()
	}

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("gRPC server stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("graceful stop timeout, forcing stop")
		s.grpcServer.Stop()
	}

	s.state.Store(int32(StateStopped))
	return nil
}

// State returns the current server state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	return s.State() == StateRunning
}

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration {
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.address
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// GetServiceInfo returns information about registered services.
func (s *Server) GetServiceInfo() map[string]grpc.ServiceInfo {
	if s.grpcServer != nil {
		return s.grpcServer.GetServiceInfo()
	}
	return nil
}

// SetServingStatus sets the health status reported for a service.
func (s *Server) SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus) {
	if s.healthServer != nil {
		s.healthServer.SetServingStatus(service, status)
	}
}

func (s *Server) buildServerOptions() []grpc.ServerOption {
	opts := []grpc.ServerOption{
		grpc.MaxConcurrentStreams(s.maxConcurrentStreams),
		grpc.MaxRecvMsgSize(s.maxRecvMsgSize),
		grpc.MaxSendMsgSize(s.maxSendMsgSize),
		grpc.ConnectionTimeout(s.connectionTimeout),
	}

	if s.keepaliveParams != nil {
		opts = append(opts, grpc.KeepaliveParams(*s.keepaliveParams))
	}

	if len(s.unaryInterceptors) > 0 {
		opts = append(opts, grpc.ChainUnaryInterceptor(s.unaryInterceptors...))
	}
	if len(s.streamInterceptors) > 0 {
		opts = append(opts, grpc.ChainStreamInterceptor(s.streamInterceptors...))
	}

	return opts
}
