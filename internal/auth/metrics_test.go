package auth

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/tokengate/internal/token"
)

func TestOutcomeOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "success", want: OutcomeAuthorized},
		{name: "rejection", err: token.NewAuthError(token.ReasonExpired, nil), want: token.ReasonExpired.String()},
		{
			name: "wrapped rejection",
			err:  fmt.Errorf("validate: %w", token.NewAuthError(token.ReasonUnknownKey, nil)),
			want: token.ReasonUnknownKey.String(),
		},
		{name: "internal", err: errors.New("boom"), want: OutcomeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, outcomeOf(tt.err))
		})
	}
}

func TestMetrics_RecordAuthorization(t *testing.T) {
	t.Parallel()

	m := NewMetrics("", nil)
	m.RecordAuthorization("/svc/M", OutcomeSkipped, time.Millisecond)
	m.RecordAuthorization("/svc/M", OutcomeSkipped, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.authorizationsTotal.WithLabelValues("/svc/M", OutcomeSkipped)))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.RecordAuthorization("/svc/M", OutcomeAuthorized, 0) })
}

func TestNewMetrics_RegistrationConflict(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "test",
		Subsystem: "auth",
		Name:      "authorizations_total",
		Help:      "conflicting type",
	}))

	assert.Panics(t, func() { NewMetrics("test", reg) })
}

func TestNewMetrics_OutcomeSeriesInitialized(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	NewMetrics("init", reg)

	count, err := testutil.GatherAndCount(reg, "init_auth_authorization_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, len(token.Reasons())+3, count)

	outcomes := Outcomes()
	for _, r := range token.Reasons() {
		assert.Contains(t, outcomes, r.String())
	}
	assert.Contains(t, outcomes, OutcomeAuthorized)
	assert.Contains(t, outcomes, OutcomeInternal)
	assert.Contains(t, outcomes, OutcomeSkipped)
}
