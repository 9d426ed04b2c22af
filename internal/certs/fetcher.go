package certs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/tokengate/internal/observability"
)

const certsTracerName = "tokengate/certs"

// Fetcher defaults.
const (
	// DefaultURL publishes the signing certificates of Firebase/Google secure tokens.
	DefaultURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

	// DefaultRefreshInterval is how long a fetched set stays fresh.
	DefaultRefreshInterval = time.Hour

	// DefaultFetchTimeout bounds a single HTTP retrieval.
	DefaultFetchTimeout = 10 * time.Second

	maxDocumentSize = 1 << 20
)

// Fetcher retrieves the provider's current certificate set.
type Fetcher interface {
	Fetch(ctx context.Context) (Set, error)
}

// HTTPFetcher downloads the certificate document over HTTP(S).
type HTTPFetcher struct {
	url             string
	client          *http.Client
	refreshInterval atomic.Int64
	cache           DocumentCache
	breaker         *gobreaker.CircuitBreaker
	metrics         *Metrics
	logger          observability.Logger
	now             func() time.Time
}

// FetcherOption is a functional option for HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *HTTPFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithRefreshInterval sets how long fetched sets stay fresh.
func WithRefreshInterval(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		f.SetRefreshInterval(d)
	}
}

// WithDocumentCache enables a shared document cache in front of HTTP.
func WithDocumentCache(cache DocumentCache) FetcherOption {
	return func(f *HTTPFetcher) {
		f.cache = cache
	}
}

// WithFetcherLogger sets the logger.
func WithFetcherLogger(logger observability.Logger) FetcherOption {
	return func(f *HTTPFetcher) {
		f.logger = logger
	}
}

// WithFetcherMetrics sets the metrics.
func WithFetcherMetrics(metrics *Metrics) FetcherOption {
	return func(f *HTTPFetcher) {
		f.metrics = metrics
	}
}

// WithFetcherClock overrides the time source used to compute expiry.
func WithFetcherClock(now func() time.Time) FetcherOption {
	return func(f *HTTPFetcher) {
		f.now = now
	}
}

// BreakerConfig configures the circuit breaker around retrievals.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32

	// OpenTimeout is how long the breaker stays open before a trial request is allowed.
	OpenTimeout time.Duration
}

// WithCircuitBreaker wraps retrievals in a circuit breaker. While it is open
// fetches fail immediately without contacting the provider.
func WithCircuitBreaker(cfg BreakerConfig) FetcherOption {
	return func(f *HTTPFetcher) {
		threshold := cfg.FailureThreshold
		if threshold == 0 {
			threshold = 5
		}

		f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "certificate-fetch",
			MaxRequests: 1,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				f.logger.Warn("circuit breaker state change",
					observability.String("name", name),
					observability.String("from", from.String()),
					observability.String("to", to.String()),
				)
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		})
	}
}

// NewHTTPFetcher creates a fetcher for url.
func NewHTTPFetcher(url string, opts ...FetcherOption) *HTTPFetcher {
	if url == "" {
		url = DefaultURL
	}

	f := &HTTPFetcher{
		url:    url,
		client: &http.Client{Timeout: DefaultFetchTimeout},
		logger: observability.NopLogger(),
		now:    time.Now,
	}
	f.refreshInterval.Store(int64(DefaultRefreshInterval))

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// URL returns the certificate endpoint.
func (f *HTTPFetcher) URL() string {
	return f.url
}

// RefreshInterval returns the current refresh interval.
func (f *HTTPFetcher) RefreshInterval() time.Duration {
	return time.Duration(f.refreshInterval.Load())
}

// SetRefreshInterval changes the refresh interval for subsequent fetches.
// Non-positive values are ignored.
func (f *HTTPFetcher) SetRefreshInterval(d time.Duration) {
	if d > 0 {
		f.refreshInterval.Store(int64(d))
	}
}

// Fetch implements Fetcher. The returned set expires one refresh interval
// from now, or earlier when it came from the shared cache.
func (f *HTTPFetcher) Fetch(ctx context.Context) (Set, error) {
	ctx, span := otel.Tracer(certsTracerName).Start(ctx, "certs.Fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("url.full", f.url)),
	)
	defer span.End()

	start := time.Now()
	logger := f.logger.WithContext(ctx)

	if set, ok := f.fromCache(ctx, logger); ok {
		f.metrics.RecordFetch(resultCacheHit, time.Since(start))
		span.SetAttributes(attribute.Bool("cache.hit", true), attribute.Int("certs.keys", len(set.Keys)))
		logger.Debug("certificates loaded from shared cache",
			observability.Int("keys", len(set.Keys)),
			observability.Time("expires_at", set.ExpiresAt),
		)
		return set, nil
	}

	logger.Debug("fetching certificates", observability.String("url", f.url))

	set, body, err := f.retrieveWithBreaker(ctx)
	if err != nil {
		result := resultError
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = resultBreakerOpen
		}
		f.metrics.RecordFetch(result, time.Since(start))
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		logger.Error("certificate fetch failed",
			observability.String("url", f.url),
			observability.Error(err),
		)
		return Set{}, err
	}

	f.metrics.RecordFetch(resultSuccess, time.Since(start))
	span.SetAttributes(attribute.Int("certs.keys", len(set.Keys)))

	if f.cache != nil {
		if err := f.cache.Put(ctx, body, f.RefreshInterval()); err != nil {
			logger.Warn("failed to store certificate document in shared cache", observability.Error(err))
		}
	}

	logger.Info("certificates fetched",
		observability.String("url", f.url),
		observability.Int("keys", len(set.Keys)),
		observability.Time("expires_at", set.ExpiresAt),
	)

	return set, nil
}

// fromCache returns a set built from the shared cache when it holds a valid document.
func (f *HTTPFetcher) fromCache(ctx context.Context, logger observability.Logger) (Set, bool) {
	if f.cache == nil {
		return Set{}, false
	}

	body, ttl, err := f.cache.Get(ctx)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			logger.Warn("shared certificate cache unavailable", observability.Error(err))
		}
		return Set{}, false
	}

	if interval := f.RefreshInterval(); ttl > interval {
		ttl = interval
	}

	set, err := ParseDocument(body, f.now().Add(ttl))
	if err != nil {
		logger.Warn("ignoring invalid cached certificate document", observability.Error(err))
		return Set{}, false
	}

	return set, true
}

type retrieval struct {
	set  Set
	body []byte
}

func (f *HTTPFetcher) retrieveWithBreaker(ctx context.Context) (Set, []byte, error) {
	if f.breaker == nil {
		return f.retrieve(ctx)
	}

	out, err := f.breaker.Execute(func() (interface{}, error) {
		set, body, err := f.retrieve(ctx)
		if err != nil {
			return nil, err
		}
		return retrieval{set: set, body: body}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Set{}, nil, newFetchError("breaker", f.url, err)
		}
		return Set{}, nil, err
	}

	r := out.(retrieval)
	return r.set, r.body, nil
}

// retrieve downloads and parses the document.
func (f *HTTPFetcher) retrieve(ctx context.Context) (Set, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, http.NoBody)
	if err != nil {
		return Set{}, nil, newFetchError("request", f.url, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Set{}, nil, newFetchError("get", f.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return Set{}, nil, newFetchError("get", f.url, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return Set{}, nil, newFetchError("read", f.url, err)
	}

	set, err := ParseDocument(body, f.now().Add(f.RefreshInterval()))
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			fe.URL = f.url
		}
		return Set{}, nil, err
	}

	return set, body, nil
}

var _ Fetcher = (*HTTPFetcher)(nil)
