package middleware

import (
	"context"
	"net"
	"sync"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/vyrodovalexey/tokengate/internal/observability"
)

// maxTrackedClients bounds the per-client limiter table.
const maxTrackedClients = 10000

// RateLimiter applies a token bucket to incoming calls, either globally or
// per client host.
type RateLimiter struct {
	limiter   *rate.Limiter
	perClient bool
	clients   map[string]*rate.Limiter
	mu        sync.Mutex
	rps       float64
	burst     int
	logger    observability.Logger
}

// RateLimiterOption is a functional option for the RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithRateLimiterLogger sets the logger.
func WithRateLimiterLogger(logger observability.Logger) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.logger = logger
	}
}

// NewRateLimiter creates a RateLimiter allowing rps calls per second with the
// given burst.
func NewRateLimiter(rps float64, burst int, perClient bool, opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		perClient: perClient,
		clients:   make(map[string]*rate.Limiter),
		rps:       rps,
		burst:     burst,
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(rl)
	}

	return rl
}

// Allow reports whether a call from client may proceed.
func (rl *RateLimiter) Allow(client string) bool {
	if !rl.perClient {
		return rl.limiter.Allow()
	}

	rl.mu.Lock()
	limiter, ok := rl.clients[client]
	if !ok {
		if len(rl.clients) >= maxTrackedClients {
			rl.clients = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(rate.Limit(rl.rps), rl.burst)
		rl.clients[client] = limiter
	}
	rl.mu.Unlock()

	return limiter.Allow()
}

// Unary returns a unary server interceptor enforcing the limit.
func (rl *RateLimiter) Unary() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if err := rl.check(ctx, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// Stream returns a stream server interceptor enforcing the limit.
func (rl *RateLimiter) Stream() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		stream grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if err := rl.check(stream.Context(), info.FullMethod); err != nil {
			return err
		}
		return handler(srv, stream)
	}
}

func (rl *RateLimiter) check(ctx context.Context, method string) error {
	client := clientHost(ctx)
	if rl.Allow(client) {
		return nil
	}

	rl.logger.WithContext(ctx).Warn("rate limit exceeded",
		observability.String("client", client),
		observability.String("method", method),
	)
	return status.Error(codes.ResourceExhausted, "rate limit exceeded")
}

// clientHost returns the peer host without its port.
func clientHost(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}

	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
