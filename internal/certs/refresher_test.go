package certs_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/tokengate/internal/certs"
	"github.com/vyrodovalexey/tokengate/internal/certs/certstest"
)

// mockFetcher returns a fixed set or error and counts calls.
type mockFetcher struct {
	set     certs.Set
	err     error
	calls   atomic.Int32
	release chan struct{}
}

func (m *mockFetcher) Fetch(ctx context.Context) (certs.Set, error) {
	m.calls.Add(1)
	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return certs.Set{}, ctx.Err()
		}
	}
	if m.err != nil {
		return certs.Set{}, m.err
	}
	return m.set, nil
}

func fixedSet(t *testing.T, expiresAt time.Time, kids ...string) certs.Set {
	t.Helper()

	keys := make(map[string]*certs.VerificationKey, len(kids))
	for _, kid := range kids {
		k := certstest.NewKey(t, kid)
		keys[kid] = &certs.VerificationKey{KeyID: kid, PublicKey: &k.Private.PublicKey}
	}
	return certs.Set{Keys: keys, ExpiresAt: expiresAt}
}

func TestRefresher_FetchesWhenExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	fetcher := &mockFetcher{set: fixedSet(t, now.Add(time.Hour), "k1")}
	registry := prometheus.NewRegistry()
	metrics := certs.NewMetrics("refresh", registry)

	r := certs.NewRefresher(certs.NewStore(), fetcher,
		certs.WithClock(func() time.Time { return now }),
		certs.WithRefresherMetrics(metrics),
	)

	keys, err := r.Keys(context.Background())
	require.NoError(t, err)
	assert.Contains(t, keys, "k1")
	assert.Equal(t, int32(1), fetcher.calls.Load())

	// Fresh set: no further fetches.
	for i := 0; i < 5; i++ {
		_, err = r.Keys(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), fetcher.calls.Load())

	assert.Equal(t, now.Add(time.Hour), r.Store().ExpiresAt())
	count, err := testutil.GatherAndCount(registry, "refresh_certificates_keys_loaded")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRefresher_RefetchesAfterExpiry(t *testing.T) {
	t.Parallel()

	var now atomic.Pointer[time.Time]
	start := time.Now()
	now.Store(&start)
	clock := func() time.Time { return *now.Load() }

	fetcher := &mockFetcher{set: fixedSet(t, start.Add(time.Minute), "k1")}
	r := certs.NewRefresher(certs.NewStore(), fetcher, certs.WithClock(clock))

	_, err := r.Keys(context.Background())
	require.NoError(t, err)

	later := start.Add(time.Minute)
	now.Store(&later)

	_, err = r.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestRefresher_FetchFailureLeavesStoreUnchanged(t *testing.T) {
	t.Parallel()

	now := time.Now()
	store := certs.NewStore()
	previous := fixedSet(t, now.Add(-time.Minute), "old")
	store.Replace(previous)
	before := store.Snapshot()

	fetchErr := &certs.FetchError{Op: "get", Cause: errors.New("connection refused")}
	fetcher := &mockFetcher{err: fetchErr}
	r := certs.NewRefresher(store, fetcher, certs.WithClock(func() time.Time { return now }))

	keys, err := r.Keys(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, certs.ErrFetchFailed)
	assert.Nil(t, keys)

	after := store.Snapshot()
	assert.Equal(t, before.ExpiresAt, after.ExpiresAt)
	require.Len(t, after.Keys, 1)
	assert.Same(t, before.Keys["old"], after.Keys["old"])

	// Still expired, so the next call tries again.
	_, err = r.Keys(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestRefresher_ConcurrentWithoutSingleFlight(t *testing.T) {
	t.Parallel()

	now := time.Now()
	fetcher := &mockFetcher{set: fixedSet(t, now.Add(time.Hour), "k1"), release: make(chan struct{})}
	r := certs.NewRefresher(certs.NewStore(), fetcher, certs.WithClock(func() time.Time { return now }))

	const callers = 4
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Keys(context.Background())
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return fetcher.calls.Load() == callers }, 5*time.Second, time.Millisecond)
	close(fetcher.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(callers), fetcher.calls.Load())
}

func TestRefresher_SingleFlight(t *testing.T) {
	t.Parallel()

	now := time.Now()
	fetcher := &mockFetcher{set: fixedSet(t, now.Add(time.Hour), "k1"), release: make(chan struct{})}
	r := certs.NewRefresher(certs.NewStore(), fetcher,
		certs.WithClock(func() time.Time { return now }),
		certs.WithSingleFlight(true),
	)

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan map[string]*certs.VerificationKey, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keys, err := r.Keys(context.Background())
			assert.NoError(t, err)
			results <- keys
		}()
	}

	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, 5*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()
	close(results)

	for keys := range results {
		assert.Contains(t, keys, "k1")
	}
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestRefresher_SingleFlightCallerCanceled(t *testing.T) {
	t.Parallel()

	fetcher := &mockFetcher{set: fixedSet(t, time.Now().Add(time.Hour), "k1"), release: make(chan struct{})}
	r := certs.NewRefresher(certs.NewStore(), fetcher, certs.WithSingleFlight(true))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Keys(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, 5*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// The shared fetch still completes and installs the set.
	close(fetcher.release)
	require.Eventually(t, func() bool {
		return !r.Store().IsExpired(time.Now())
	}, 5*time.Second, time.Millisecond)
}

func TestRefresher_Refresh(t *testing.T) {
	t.Parallel()

	now := time.Now()
	store := certs.NewStore()
	store.Replace(fixedSet(t, now.Add(time.Hour), "old"))

	fetcher := &mockFetcher{set: fixedSet(t, now.Add(2*time.Hour), "new")}
	r := certs.NewRefresher(store, fetcher)

	require.NoError(t, r.Refresh(context.Background()))
	_, ok := store.Snapshot().Lookup("new")
	assert.True(t, ok)
}

func TestRefresher_RetriesEveryCallAfterFailure(t *testing.T) {
	t.Parallel()

	const calls = 8

	tests := []struct {
		name         string
		opts         []certs.FetcherOption
		wantRequests int
	}{
		{
			name:         "default options",
			wantRequests: calls,
		},
		{
			name: "with circuit breaker",
			opts: []certs.FetcherOption{
				certs.WithCircuitBreaker(certs.BreakerConfig{FailureThreshold: 5, OpenTimeout: time.Hour}),
			},
			wantRequests: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			endpoint := certstest.NewServer(t, certstest.NewKey(t, "k1"))
			endpoint.SetStatus(http.StatusInternalServerError)

			opts := append([]certs.FetcherOption{certs.WithHTTPClient(endpoint.Client())}, tt.opts...)
			r := certs.NewRefresher(certs.NewStore(), certs.NewHTTPFetcher(endpoint.URL, opts...))

			for i := 0; i < calls; i++ {
				_, err := r.Keys(context.Background())
				require.Error(t, err)
				assert.ErrorIs(t, err, certs.ErrFetchFailed)
			}
			assert.Equal(t, tt.wantRequests, endpoint.Requests())
		})
	}
}

func TestRefresher_RecoversOnNextCallAfterFailure(t *testing.T) {
	t.Parallel()

	endpoint := certstest.NewServer(t, certstest.NewKey(t, "k1"))
	endpoint.SetStatus(http.StatusInternalServerError)

	r := certs.NewRefresher(certs.NewStore(),
		certs.NewHTTPFetcher(endpoint.URL, certs.WithHTTPClient(endpoint.Client())))

	_, err := r.Keys(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, endpoint.Requests())

	endpoint.SetStatus(http.StatusOK)
	keys, err := r.Keys(context.Background())
	require.NoError(t, err)
	assert.Contains(t, keys, "k1")
	assert.Equal(t, 2, endpoint.Requests())
}
