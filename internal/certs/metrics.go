package certs

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Fetch results used as the "result" label.
const (
	resultSuccess     = "success"
	resultError       = "error"
	resultCacheHit    = "cache_hit"
	resultBreakerOpen = "breaker_open"
)

// Metrics holds Prometheus metrics for certificate retrieval.
type Metrics struct {
	fetchTotal    *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	keysLoaded    prometheus.Gauge
	expiresAt     prometheus.Gauge
}

// NewMetrics creates certificate metrics and registers them with registerer.
// A nil registerer leaves them unregistered.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "tokengate"
	}

	m := &Metrics{
		fetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "certificates",
				Name:      "fetch_total",
				Help:      "Total number of certificate fetch attempts by result",
			},
			[]string{"result"},
		),
		fetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "certificates",
				Name:      "fetch_duration_seconds",
				Help:      "Certificate fetch duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		keysLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "certificates",
				Name:      "keys_loaded",
				Help:      "Number of verification keys in the current certificate set",
			},
		),
		expiresAt: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "certificates",
				Name:      "expires_at_seconds",
				Help:      "Unix time at which the current certificate set expires",
			},
		),
	}

	for _, result := range []string{resultSuccess, resultError, resultCacheHit, resultBreakerOpen} {
		m.fetchTotal.WithLabelValues(result)
	}

	if registerer != nil {
		for _, c := range []prometheus.Collector{m.fetchTotal, m.fetchDuration, m.keysLoaded, m.expiresAt} {
			if err := registerer.Register(c); err != nil && !isAlreadyRegistered(err) {
				panic(err)
			}
		}
	}

	return m
}

// RecordFetch records one fetch attempt.
func (m *Metrics) RecordFetch(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.fetchTotal.WithLabelValues(result).Inc()
	m.fetchDuration.Observe(duration.Seconds())
}

// RecordSet records the shape of a newly installed set.
func (m *Metrics) RecordSet(set Set) {
	if m == nil {
		return
	}
	m.keysLoaded.Set(float64(len(set.Keys)))
	m.expiresAt.Set(float64(set.ExpiresAt.Unix()))
}

func isAlreadyRegistered(err error) bool {
	var are prometheus.AlreadyRegisteredError
	return errors.As(err, &are)
}
