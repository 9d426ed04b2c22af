package certs_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/tokengate/internal/certs"
	"github.com/vyrodovalexey/tokengate/internal/certs/certstest"
	"github.com/vyrodovalexey/tokengate/internal/observability"
)

func TestNewHTTPFetcher_Defaults(t *testing.T) {
	t.Parallel()

	f := certs.NewHTTPFetcher("")
	assert.Equal(t, certs.DefaultURL, f.URL())
	assert.Equal(t, certs.DefaultRefreshInterval, f.RefreshInterval())

	f.SetRefreshInterval(0)
	assert.Equal(t, certs.DefaultRefreshInterval, f.RefreshInterval())
	f.SetRefreshInterval(-time.Second)
	assert.Equal(t, certs.DefaultRefreshInterval, f.RefreshInterval())
	f.SetRefreshInterval(3 * time.Second)
	assert.Equal(t, 3*time.Second, f.RefreshInterval())
}

func TestHTTPFetcher_Fetch(t *testing.T) {
	t.Parallel()

	k1 := certstest.NewKey(t, "k1")
	server := certstest.NewServer(t, k1)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	registry := prometheus.NewRegistry()
	metrics := certs.NewMetrics("test", registry)

	f := certs.NewHTTPFetcher(server.URL,
		certs.WithHTTPClient(server.Client()),
		certs.WithRefreshInterval(5*time.Minute),
		certs.WithFetcherClock(func() time.Time { return now }),
		certs.WithFetcherLogger(observability.NopLogger()),
		certs.WithFetcherMetrics(metrics),
	)

	set, err := f.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, now.Add(5*time.Minute), set.ExpiresAt)
	key, ok := set.Lookup("k1")
	require.True(t, ok)
	assert.True(t, k1.Private.PublicKey.Equal(key.PublicKey))
	assert.Equal(t, 1, server.Requests())

	count, err := testutil.GatherAndCount(registry, "test_certificates_fetch_total")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestHTTPFetcher_Fetch_Failures(t *testing.T) {
	t.Parallel()

	good := certstest.NewKey(t, "good")

	tests := []struct {
		name    string
		status  int
		body    []byte
		wantErr error
	}{
		{name: "server error", status: http.StatusInternalServerError, body: []byte("oops"), wantErr: certs.ErrUnexpectedStatus},
		{name: "not found", status: http.StatusNotFound, body: nil, wantErr: certs.ErrUnexpectedStatus},
		{name: "malformed JSON", status: http.StatusOK, body: []byte("{"), wantErr: certs.ErrMalformedDocument},
		{
			name:    "one bad certificate",
			status:  http.StatusOK,
			body:    []byte(`{"good": ` + quote(t, good.CertPEM) + `, "bad": "nope"}`),
			wantErr: certs.ErrInvalidCertificate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := certstest.NewServer(t)
			server.SetStatus(tt.status)
			server.SetBody(tt.body)

			f := certs.NewHTTPFetcher(server.URL, certs.WithHTTPClient(server.Client()))
			_, err := f.Fetch(context.Background())

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, certs.ErrFetchFailed)

			var fe *certs.FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, server.URL, fe.URL)
		})
	}
}

func TestHTTPFetcher_Fetch_NetworkError(t *testing.T) {
	t.Parallel()

	server := certstest.NewServer(t)
	url := server.URL
	server.Close()

	f := certs.NewHTTPFetcher(url, certs.WithHTTPClient(&http.Client{Timeout: time.Second}))
	_, err := f.Fetch(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, certs.ErrFetchFailed)
}

func TestHTTPFetcher_Fetch_ContextCanceled(t *testing.T) {
	t.Parallel()

	server := certstest.NewServer(t, certstest.NewKey(t, "k1"))
	f := certs.NewHTTPFetcher(server.URL, certs.WithHTTPClient(server.Client()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Fetch(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, server.Requests())
}

func TestHTTPFetcher_CircuitBreaker(t *testing.T) {
	t.Parallel()

	key := certstest.NewKey(t, "k1")
	server := certstest.NewServer(t, key)
	server.SetStatus(http.StatusBadGateway)

	registry := prometheus.NewRegistry()
	metrics := certs.NewMetrics("cb", registry)

	f := certs.NewHTTPFetcher(server.URL,
		certs.WithHTTPClient(server.Client()),
		certs.WithFetcherMetrics(metrics),
		certs.WithCircuitBreaker(certs.BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Hour}),
	)

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background())
		require.ErrorIs(t, err, certs.ErrUnexpectedStatus)
	}
	assert.Equal(t, 2, server.Requests())

	// Breaker is open now: the provider is not contacted even though it recovered.
	server.SetStatus(http.StatusOK)
	_, err := f.Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.ErrorIs(t, err, certs.ErrFetchFailed)
	assert.Equal(t, 2, server.Requests())

	assert.InDelta(t, 2, fetchCount(t, registry, "cb_certificates_fetch_total", "error"), 0)
	assert.InDelta(t, 1, fetchCount(t, registry, "cb_certificates_fetch_total", "breaker_open"), 0)
}

// fetchCount returns the fetch counter value for one result label.
func fetchCount(t *testing.T, registry *prometheus.Registry, name, result string) float64 {
	t.Helper()

	families, err := registry.Gather()
	require.NoError(t, err)

	metric := findSample(families, name, "result", result)
	require.NotNil(t, metric, "no %s sample with result %q", name, result)
	return metric.GetCounter().GetValue()
}

func findSample(families []*dto.MetricFamily, name, label, value string) *dto.Metric {
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m
				}
			}
		}
	}
	return nil
}

func quote(t *testing.T, s string) string {
	t.Helper()

	b, err := json.Marshal(s)
	require.NoError(t, err)
	return string(b)
}
