package admin

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/tokengate/internal/certs"
	"github.com/vyrodovalexey/tokengate/internal/certs/certstest"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	s := NewServer(":0")
	rec := get(t, s.Handler(), "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		checks   map[string]ReadinessCheck
		wantCode int
		want     string
	}{
		{
			name:     "no checks",
			wantCode: http.StatusOK,
			want:     "ok",
		},
		{
			name: "all passing",
			checks: map[string]ReadinessCheck{
				"grpc": func(context.Context) error { return nil },
			},
			wantCode: http.StatusOK,
			want:     "ok",
		},
		{
			name: "one failing",
			checks: map[string]ReadinessCheck{
				"grpc":  func(context.Context) error { return nil },
				"redis": func(context.Context) error { return errors.New("connection refused") },
			},
			wantCode: http.StatusServiceUnavailable,
			want:     "unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var opts []Option
			for name, check := range tt.checks {
				opts = append(opts, WithReadinessCheck(name, check))
			}
			rec := get(t, NewServer(":0", opts...).Handler(), "/readyz")

			assert.Equal(t, tt.wantCode, rec.Code)

			var body ReadinessStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body.Status)
			assert.Len(t, body.Checks, len(tt.checks))
			if r, ok := body.Checks["redis"]; ok {
				assert.Equal(t, "failed", r.Status)
				assert.Equal(t, "connection refused", r.Error)
			}
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tokengate",
		Name:      "admin_test_total",
		Help:      "test counter",
	})
	reg.MustRegister(counter)
	counter.Inc()

	rec := get(t, NewServer(":0", WithGatherer(reg)).Handler(), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tokengate_admin_test_total 1")
}

func TestServer_Keys(t *testing.T) {
	t.Parallel()

	k1 := certstest.NewKey(t, "k1")
	k2 := certstest.NewKey(t, "k2")
	expiresAt := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

	set, err := certs.ParseDocument(certstest.Document(t, k1, k2), expiresAt)
	require.NoError(t, err)
	store := certs.NewStore()
	store.Replace(set)

	rec := get(t, NewServer(":0", WithKeys(store)).Handler(), "/keys")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, expiresAt.Format(http.TimeFormat), rec.Header().Get("Expires"))

	jwks, err := jwk.Parse(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 2, jwks.Len())

	for _, k := range []*certstest.Key{k1, k2} {
		key, ok := jwks.LookupKeyID(k.ID)
		require.True(t, ok, k.ID)
		assert.Equal(t, jwa.RS256, key.Algorithm())

		var pub rsa.PublicKey
		require.NoError(t, key.Raw(&pub))
		assert.Zero(t, pub.N.Cmp(k.Private.N))
		assert.Equal(t, k.Private.E, pub.E)
	}
}

func TestServer_KeysEmptyStore(t *testing.T) {
	t.Parallel()

	rec := get(t, NewServer(":0", WithKeys(certs.NewStore())).Handler(), "/keys")
	require.Equal(t, http.StatusOK, rec.Code)
	jwks, err := jwk.Parse(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Zero(t, jwks.Len())
}

func TestServer_KeysDisabled(t *testing.T) {
	t.Parallel()

	rec := get(t, NewServer(":0").Handler(), "/keys")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// stubRefresher installs set into store on Refresh, or returns err.
type stubRefresher struct {
	store *certs.Store
	set   certs.Set
	err   error
	calls int
}

func (r *stubRefresher) Refresh(context.Context) error {
	r.calls++
	if r.err != nil {
		return r.err
	}
	r.store.Replace(r.set)
	return nil
}

func TestServer_KeysRefresh(t *testing.T) {
	t.Parallel()

	expiresAt := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	set, err := certs.ParseDocument(certstest.Document(t, certstest.NewKey(t, "k1")), expiresAt)
	require.NoError(t, err)

	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantStatus string
		wantKeys   float64
	}{
		{
			name:       "refreshed",
			wantCode:   http.StatusOK,
			wantStatus: "refreshed",
			wantKeys:   1,
		},
		{
			name:       "provider unreachable",
			err:        &certs.FetchError{Op: "get", URL: "http://certs", Cause: errors.New("connection refused")},
			wantCode:   http.StatusBadGateway,
			wantStatus: "failed",
		},
		{
			name:       "other failure",
			err:        errors.New("boom"),
			wantCode:   http.StatusInternalServerError,
			wantStatus: "failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := certs.NewStore()
			refresher := &stubRefresher{store: store, set: set, err: tt.err}
			h := NewServer(":0", WithKeys(store), WithKeyRefresher(refresher)).Handler()

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/keys/refresh", nil))

			require.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, 1, refresher.calls)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body["status"])
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, tt.wantKeys, body["keys"])
				assert.Equal(t, expiresAt.Format(time.RFC3339), body["expiresAt"])
				return
			}
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestServer_KeysRefreshDisabled(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	NewServer(":0", WithKeys(certs.NewStore())).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/keys/refresh", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// GET is not a refresh.
	h := NewServer(":0", WithKeyRefresher(&stubRefresher{store: certs.NewStore()})).Handler()
	assert.NotEqual(t, http.StatusOK, get(t, h, "/keys/refresh").Code)
}

func TestServer_StartStop(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer("", WithListener(ln))

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(context.Background()) }()
	require.Eventually(t, s.IsRunning, time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.NoError(t, <-errCh)
	assert.False(t, s.IsRunning())
	assert.NoError(t, s.Stop(ctx), "second stop is a no-op")
}

func TestServer_StartListenError(t *testing.T) {
	t.Parallel()

	s := NewServer("bad-address")
	assert.Error(t, s.Start(context.Background()))
}
