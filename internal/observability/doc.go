// Package observability provides structured logging and tracing setup.
//
// Logging goes through the Logger interface backed by zap:
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	logger.WithContext(ctx).Info("certificate set replaced",
//	    observability.Int("keys", 3),
//	)
//
// WithContext attaches the per-call correlation id (see ContextWithCorrelationID)
// and the active OpenTelemetry trace and span ids.
//
// NewTracer installs an OTLP/gRPC exporting tracer provider as the global
// provider; packages create spans with otel.Tracer(name).
package observability
