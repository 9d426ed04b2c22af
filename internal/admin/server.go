package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vyrodovalexey/tokengate/internal/certs"
	"github.com/vyrodovalexey/tokengate/internal/observability"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid race conditions
var ginModeOnce sync.Once

// Default HTTP timeouts.
const (
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultReadinessTimeout  = 5 * time.Second
	DefaultRefreshTimeout    = 8 * time.Second
	defaultReadHeaderTimeout = 5 * time.Second
)

// KeySnapshotter exposes the currently cached certificate set.
type KeySnapshotter interface {
	Snapshot() certs.Set
}

// KeyRefresher forces a certificate fetch regardless of expiry.
type KeyRefresher interface {
	Refresh(ctx context.Context) error
}

// ReadinessCheck reports an error while a dependency is not ready.
type ReadinessCheck func(ctx context.Context) error

// Server is the admin HTTP server.
type Server struct {
	address    string
	engine     *gin.Engine
	httpServer *http.Server
	gatherer   prometheus.Gatherer
	keys       KeySnapshotter
	refresher  KeyRefresher
	checks     map[string]ReadinessCheck
	logger     observability.Logger
	startTime  time.Time
	now        func() time.Time

	mu       sync.Mutex
	listener net.Listener
	running  bool
}

// Option is a functional option for the admin server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGatherer sets the registry served on /metrics. Defaults to the global
// Prometheus registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithKeys enables /keys for the given certificate store.
func WithKeys(keys KeySnapshotter) Option {
	return func(s *Server) {
		s.keys = keys
	}
}

// WithKeyRefresher enables POST /keys/refresh.
func WithKeyRefresher(refresher KeyRefresher) Option {
	return func(s *Server) {
		s.refresher = refresher
	}
}

// WithReadinessCheck adds a named check to /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) Option {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// WithListener serves on ln instead of listening on the address.
func WithListener(ln net.Listener) Option {
	return func(s *Server) {
		s.listener = ln
	}
}

// NewServer creates an admin server for address.
func NewServer(address string, opts ...Option) *Server {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	s := &Server{
		address:   address,
		engine:    gin.New(),
		gatherer:  prometheus.DefaultGatherer,
		checks:    make(map[string]ReadinessCheck),
		logger:    observability.NopLogger(),
		startTime: time.Now(),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.engine.Use(gin.Recovery())
	s.routes()

	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/readyz", s.handleReadyz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	if s.keys != nil {
		s.engine.GET("/keys", s.handleKeys)
	}
	if s.refresher != nil {
		s.engine.POST("/keys/refresh", s.handleRefresh)
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("admin server already running")
	}

	ln := s.listener
	if ln == nil {
		var lc net.ListenConfig
		var err error
		ln, err = lc.Listen(ctx, "tcp", s.address)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to listen on %s: %w", s.address, err)
		}
		s.listener = ln
	}

	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadTimeout:       DefaultReadTimeout,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}
	srv := s.httpServer
	s.running = true
	s.mu.Unlock()

	s.logger.Info("admin server started", observability.String("address", ln.Addr().String()))

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("admin server error: %w", err)
	}

	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	srv := s.httpServer
	s.running = false
	s.mu.Unlock()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown admin server: %w", err)
	}

	s.logger.Info("admin server stopped")
	return nil
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
