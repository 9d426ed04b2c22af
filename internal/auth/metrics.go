package auth

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/tokengate/internal/token"
)

// Authorization outcomes recorded besides the token rejection reasons.
const (
	OutcomeAuthorized = "authorized"
	OutcomeInternal   = "internal"
	OutcomeSkipped    = "skipped"
)

// Metrics holds Prometheus metrics for call authorization.
type Metrics struct {
	authorizationsTotal   *prometheus.CounterVec
	authorizationDuration *prometheus.HistogramVec
}

// NewMetrics creates authorization metrics and registers them with
// registerer. A nil registerer leaves the collectors unregistered.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "tokengate"
	}

	m := &Metrics{
		authorizationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "authorizations_total",
				Help:      "Total number of call authorizations by outcome",
			},
			[]string{"method", "outcome"},
		),
		authorizationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "authorization_duration_seconds",
				Help:      "Call authorization duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 5, 10},
			},
			[]string{"outcome"},
		),
	}

	if registerer != nil {
		for _, c := range []prometheus.Collector{m.authorizationsTotal, m.authorizationDuration} {
			if err := registerer.Register(c); err != nil && !isAlreadyRegistered(err) {
				panic(err)
			}
		}
	}

	for _, outcome := range Outcomes() {
		m.authorizationDuration.WithLabelValues(outcome)
	}

	return m
}

// Outcomes lists every authorization outcome label: the token rejection
// reasons plus authorized, internal and skipped.
func Outcomes() []string {
	reasons := token.Reasons()
	out := make([]string, 0, len(reasons)+3)
	out = append(out, OutcomeAuthorized, OutcomeInternal, OutcomeSkipped)
	for _, r := range reasons {
		out = append(out, r.String())
	}
	return out
}

// RecordAuthorization records one authorization outcome.
func (m *Metrics) RecordAuthorization(method, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.authorizationsTotal.WithLabelValues(method, outcome).Inc()
	m.authorizationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// outcomeOf maps an authorization error to its metric label.
func outcomeOf(err error) string {
	if err == nil {
		return OutcomeAuthorized
	}
	if reason, ok := token.ReasonOf(err); ok {
		return reason.String()
	}
	return OutcomeInternal
}

func isAlreadyRegistered(err error) bool {
	var are prometheus.AlreadyRegisteredError
	return errors.As(err, &are)
}
