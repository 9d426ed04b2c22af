package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	reflectionv1 "google.golang.org/grpc/reflection/grpc_reflection_v1"
	reflectionv1alpha "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"

	"github.com/vyrodovalexey/tokengate/internal/admin"
	"github.com/vyrodovalexey/tokengate/internal/auth"
	"github.com/vyrodovalexey/tokengate/internal/certs"
	"github.com/vyrodovalexey/tokengate/internal/config"
	"github.com/vyrodovalexey/tokengate/internal/grpc/middleware"
	"github.com/vyrodovalexey/tokengate/internal/grpc/server"
	"github.com/vyrodovalexey/tokengate/internal/observability"
	"github.com/vyrodovalexey/tokengate/internal/users"
)

const metricsNamespace = "tokengate"

// unauthenticatedMethods are served without a token.
var unauthenticatedMethods = []string{
	healthpb.Health_Check_FullMethodName,
	healthpb.Health_Watch_FullMethodName,
	reflectionv1.ServerReflection_ServerReflectionInfo_FullMethodName,
	reflectionv1alpha.ServerReflection_ServerReflectionInfo_FullMethodName,
}

// application holds all application components.
type application struct {
	config    *config.Config
	logger    observability.Logger
	registry  *prometheus.Registry
	tracer    *observability.Tracer
	store     *certs.Store
	fetcher   *certs.HTTPFetcher
	refresher *certs.Refresher
	cache     *certs.RedisDocumentCache
	grpc      *server.Server
	admin     *admin.Server
}

// newApplication builds every component from cfg. Nothing listens until start.
func newApplication(ctx context.Context, cfg *config.Config, logger observability.Logger) (*application, error) {
	app := &application{
		config:   cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tracer, err := observability.NewTracer(ctx, observability.TracerConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	app.tracer = tracer

	if err := app.initCertificates(ctx); err != nil {
		return nil, err
	}

	interceptor, err := auth.NewInterceptor(app.refresher,
		auth.WithLogger(logger),
		auth.WithMetrics(auth.NewMetrics(metricsNamespace, app.registry)),
		auth.WithSkipMethods(unauthenticatedMethods...),
	)
	if err != nil {
		return nil, err
	}

	unary, stream := app.interceptorChains(interceptor)

	app.grpc, err = server.New(&cfg.Server,
		server.WithLogger(logger),
		server.WithUnaryInterceptors(unary...),
		server.WithStreamInterceptors(stream...),
		server.WithService(&users.ServiceDesc, users.NewService(users.WithLogger(logger))),
	)
	if err != nil {
		return nil, err
	}

	if cfg.Admin.Enabled {
		app.admin = admin.NewServer(cfg.Admin.Address,
			admin.WithLogger(logger),
			admin.WithGatherer(app.registry),
			admin.WithKeys(app.store),
			admin.WithKeyRefresher(app.refresher),
			admin.WithReadinessCheck("grpc", func(context.Context) error {
				if !app.grpc.IsRunning() {
					return errors.New("gRPC server is not running")
				}
				return nil
			}),
		)
	}

	return app, nil
}

// initCertificates builds the store, fetcher and refresher.
func (app *application) initCertificates(ctx context.Context) error {
	cfg := app.config.Certificates
	metrics := certs.NewMetrics(metricsNamespace, app.registry)

	opts := []certs.FetcherOption{
		certs.WithHTTPClient(&http.Client{Timeout: cfg.FetchTimeout.Duration()}),
		certs.WithRefreshInterval(cfg.RefreshInterval.Duration()),
		certs.WithFetcherLogger(app.logger),
		certs.WithFetcherMetrics(metrics),
	}

	if cfg.CircuitBreaker.Enabled {
		opts = append(opts, certs.WithCircuitBreaker(certs.BreakerConfig{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			OpenTimeout:      cfg.CircuitBreaker.OpenTimeout.Duration(),
		}))
	}

	if cfg.Redis.Enabled {
		cache, err := certs.NewRedisDocumentCache(ctx, cfg.Redis.URL, cfg.Redis.Key)
		if err != nil {
			return fmt.Errorf("failed to initialize certificate cache: %w", err)
		}
		app.cache = cache
		opts = append(opts, certs.WithDocumentCache(cache))
	}

	app.store = certs.NewStore()
	app.fetcher = certs.NewHTTPFetcher(cfg.URL, opts...)
	app.refresher = certs.NewRefresher(app.store, app.fetcher,
		certs.WithSingleFlight(cfg.SingleFlight),
		certs.WithRefresherLogger(app.logger),
		certs.WithRefresherMetrics(metrics),
	)

	return nil
}

// interceptorChains orders the server interceptors. Recovery is outermost so
// it also covers the other interceptors. The correlation id and span exist
// before anything logs, and authentication runs last so rejected calls are
// still counted and logged.
func (app *application) interceptorChains(
	interceptor *auth.Interceptor,
) ([]grpc.UnaryServerInterceptor, []grpc.StreamServerInterceptor) {
	serverMetrics := middleware.NewServerMetrics(metricsNamespace, app.registry)

	unary := []grpc.UnaryServerInterceptor{
		middleware.UnaryRecoveryInterceptor(app.logger),
		middleware.UnaryCorrelationInterceptor(),
		middleware.UnaryTracingInterceptor(),
		middleware.UnaryLoggingInterceptor(app.logger, unauthenticatedMethods...),
		serverMetrics.Unary(),
	}
	stream := []grpc.StreamServerInterceptor{
		middleware.StreamRecoveryInterceptor(app.logger),
		middleware.StreamCorrelationInterceptor(),
		middleware.StreamTracingInterceptor(),
		middleware.StreamLoggingInterceptor(app.logger, unauthenticatedMethods...),
		serverMetrics.Stream(),
	}

	if rl := app.config.RateLimit; rl.Enabled {
		limiter := middleware.NewRateLimiter(rl.RequestsPerSecond, rl.Burst, rl.PerClient,
			middleware.WithRateLimiterLogger(app.logger))
		unary = append(unary, limiter.Unary())
		stream = append(stream, limiter.Stream())
	}

	unary = append(unary, interceptor.Unary())
	stream = append(stream, interceptor.Stream())

	return unary, stream
}

// start starts the gRPC server and, when enabled, the admin server.
func (app *application) start(ctx context.Context) error {
	if err := app.grpc.Start(ctx); err != nil {
		return err
	}

	if app.admin != nil {
		go func() {
			if err := app.admin.Start(ctx); err != nil {
				app.logger.Error("admin server failed", observability.Error(err))
			}
		}()
	}

	return nil
}

// reload applies the settings that can change without a restart.
func (app *application) reload(cfg *config.Config) {
	if err := app.logger.SetLevel(cfg.Logging.Level); err != nil {
		app.logger.Warn("invalid log level in reloaded configuration",
			observability.String("level", cfg.Logging.Level),
			observability.Error(err),
		)
	}

	app.fetcher.SetRefreshInterval(cfg.Certificates.RefreshInterval.Duration())

	app.logger.Info("runtime settings applied",
		observability.String("log_level", cfg.Logging.Level),
		observability.Duration("refresh_interval", app.fetcher.RefreshInterval()),
	)
}

// stop shuts components down in reverse order of start.
func (app *application) stop(ctx context.Context) {
	if app.admin != nil {
		if err := app.admin.Stop(ctx); err != nil {
			app.logger.Error("failed to stop admin server", observability.Error(err))
		}
	}

	if err := app.grpc.GracefulStop(ctx); err != nil {
		app.logger.Error("failed to stop gRPC server gracefully", observability.Error(err))
	}

	if app.cache != nil {
		if err := app.cache.Close(); err != nil {
			app.logger.Error("failed to close certificate cache", observability.Error(err))
		}
	}

	if err := app.tracer.Shutdown(ctx); err != nil {
		app.logger.Error("failed to shutdown tracer", observability.Error(err))
	}
}
