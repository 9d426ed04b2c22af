package middleware

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// ServerMetrics holds Prometheus metrics for served gRPC calls.
type ServerMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeStreams   *prometheus.GaugeVec
}

// NewServerMetrics creates gRPC server metrics and registers them with
// registerer. A nil registerer leaves the collectors unregistered.
func NewServerMetrics(namespace string, registerer prometheus.Registerer) *ServerMetrics {
	if namespace == "" {
		namespace = "tokengate"
	}

	m := &ServerMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "grpc_server",
				Name:      "requests_total",
				Help:      "Total number of gRPC calls handled",
			},
			[]string{"service", "method", "code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "grpc_server",
				Name:      "request_duration_seconds",
				Help:      "gRPC call duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "code"},
		),
		activeStreams: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "grpc_server",
				Name:      "active_streams",
				Help:      "Number of active gRPC streams",
			},
			[]string{"service", "method"},
		),
	}

	if registerer != nil {
		for _, c := range []prometheus.Collector{m.requestsTotal, m.requestDuration, m.activeStreams} {
			if err := registerer.Register(c); err != nil && !isAlreadyRegistered(err) {
				panic(err)
			}
		}
	}

	return m
}

// RecordRequest records a completed call.
func (m *ServerMetrics) RecordRequest(fullMethod string, err error, duration time.Duration) {
	service, method := parseFullMethod(fullMethod)
	code := status.Code(err).String()
	m.requestsTotal.WithLabelValues(service, method, code).Inc()
	m.requestDuration.WithLabelValues(service, method, code).Observe(duration.Seconds())
}

// Unary returns a unary server interceptor that records call metrics.
func (m *ServerMetrics) Unary() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		m.RecordRequest(info.FullMethod, err, time.Since(start))
		return resp, err
	}
}

// Stream returns a stream server interceptor that records call metrics.
func (m *ServerMetrics) Stream() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		stream grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		service, method := parseFullMethod(info.FullMethod)

		active := m.activeStreams.WithLabelValues(service, method)
		active.Inc()
		defer active.Dec()

		err := handler(srv, stream)
		m.RecordRequest(info.FullMethod, err, time.Since(start))
		return err
	}
}

// parseFullMethod splits "/package.Service/Method" into its parts.
func parseFullMethod(fullMethod string) (service, method string) {
	fullMethod = strings.TrimPrefix(fullMethod, "/")

	idx := strings.LastIndex(fullMethod, "/")
	if idx < 0 {
		return fullMethod, ""
	}

	return fullMethod[:idx], fullMethod[idx+1:]
}

func isAlreadyRegistered(err error) bool {
	var are prometheus.AlreadyRegisteredError
	return errors.As(err, &are)
}
