package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vyrodovalexey/tokengate/internal/certs"
	"github.com/vyrodovalexey/tokengate/internal/observability"
	"github.com/vyrodovalexey/tokengate/internal/token"
)

const authTracerName = "tokengate/auth"

var (
	// errCertificatesUnavailable marks a failed key lookup.
	errCertificatesUnavailable = errors.New("signing certificates unavailable")

	// errIdentityEncoding marks an identity that cannot travel as metadata.
	errIdentityEncoding = errors.New("identity is not a valid metadata value")
)

// KeySource yields the verification keys valid for the current call.
type KeySource interface {
	Keys(ctx context.Context) (map[string]*certs.VerificationKey, error)
}

// TokenValidator verifies a raw token and returns the caller identity.
type TokenValidator interface {
	Validate(raw string, keys map[string]*certs.VerificationKey, now time.Time) (string, error)
}

// Interceptor authenticates gRPC calls with RS256 bearer tokens and hands the
// verified identity to the handler as x-user-id metadata.
type Interceptor struct {
	keys      KeySource
	validator TokenValidator
	logger    observability.Logger
	metrics   *Metrics
	now       func() time.Time
	skip      map[string]struct{}
}

// Option is a functional option for the Interceptor.
type Option func(*Interceptor)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(i *Interceptor) {
		i.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(i *Interceptor) {
		i.metrics = metrics
	}
}

// WithValidator replaces the token validator.
func WithValidator(validator TokenValidator) Option {
	return func(i *Interceptor) {
		i.validator = validator
	}
}

// WithClock sets the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(i *Interceptor) {
		i.now = now
	}
}

// WithSkipMethods lists full method names that are served without
// authentication, such as health checks.
func WithSkipMethods(methods ...string) Option {
	return func(i *Interceptor) {
		for _, m := range methods {
			i.skip[m] = struct{}{}
		}
	}
}

// NewInterceptor creates an Interceptor drawing keys from keys.
func NewInterceptor(keys KeySource, opts ...Option) (*Interceptor, error) {
	if keys == nil {
		return nil, errors.New("key source is required")
	}

	i := &Interceptor{
		keys:      keys,
		validator: token.NewValidator(),
		logger:    observability.NopLogger(),
		now:       time.Now,
		skip:      make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(i)
	}

	return i, nil
}

// Authorize authenticates the call described by ctx. On success the returned
// context carries a copy of the incoming metadata with x-user-id set to the
// verified identity. Errors are gRPC status errors ready for the caller.
func (i *Interceptor) Authorize(ctx context.Context, fullMethod string) (context.Context, error) {
	start := time.Now()

	if observability.CorrelationIDFromContext(ctx) == "" {
		ctx = observability.ContextWithCorrelationID(ctx, uuid.New().String())
	}

	spanCtx, span := otel.Tracer(authTracerName).Start(ctx, "auth.Authorize",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("rpc.method", fullMethod)),
	)
	defer span.End()

	logger := i.logger.WithContext(spanCtx).With(observability.String("method", fullMethod))

	authorized, err := i.authorize(spanCtx, ctx)
	outcome := outcomeOf(err)
	duration := time.Since(start)
	i.metrics.RecordAuthorization(fullMethod, outcome, duration)
	span.SetAttributes(attribute.String("auth.outcome", outcome))

	switch {
	case err == nil:
		logger.Debug("call authorized", observability.Duration("duration", duration))
		return authorized, nil
	case outcome == OutcomeInternal:
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		logger.Error("call authorization failed", observability.Error(err))
	default:
		logger.Info("call rejected",
			observability.String("reason", outcome),
			observability.Error(err),
		)
	}

	return nil, toStatus(err)
}

// authorize runs the pipeline. Key lookups use spanCtx so the fetch is
// traced as a child; the returned context derives from ctx.
func (i *Interceptor) authorize(spanCtx, ctx context.Context) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)

	raw := ""
	if values := md.Get(AuthorizationMetadataKey); len(values) > 0 {
		raw = values[0]
	}
	if raw == "" {
		return nil, token.NewAuthError(token.ReasonNoToken, nil)
	}

	keys, err := i.keys.Keys(spanCtx)
	if err != nil {
		return nil, errors.Join(errCertificatesUnavailable, err)
	}

	uid, err := i.validator.Validate(raw, keys, i.now())
	if err != nil {
		return nil, err
	}

	if !validMetadataValue(uid) {
		return nil, errIdentityEncoding
	}

	out := md.Copy()
	out.Set(UserIDMetadataKey, uid)

	return metadata.NewIncomingContext(ctx, out), nil
}

// Unary returns a unary server interceptor.
func (i *Interceptor) Unary() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler,
	) (interface{}, error) {
		if i.skipped(info.FullMethod) {
			return handler(ctx, req)
		}

		authorized, err := i.Authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}

		return handler(authorized, req)
	}
}

// Stream returns a stream server interceptor.
func (i *Interceptor) Stream() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if i.skipped(info.FullMethod) {
			return handler(srv, ss)
		}

		authorized, err := i.Authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}

		return handler(srv, &authenticatedServerStream{ServerStream: ss, ctx: authorized})
	}
}

func (i *Interceptor) skipped(fullMethod string) bool {
	if _, ok := i.skip[fullMethod]; ok {
		i.metrics.RecordAuthorization(fullMethod, OutcomeSkipped, 0)
		return true
	}
	return false
}

// toStatus converts an authorization error to the status sent to the caller.
// Internal failures never expose their cause.
func toStatus(err error) error {
	if message, ok := token.MessageOf(err); ok {
		return status.Error(codes.Unauthenticated, message)
	}
	if errors.Is(err, errCertificatesUnavailable) {
		return status.Error(codes.Internal, "Unable to retrieve signing certificates")
	}
	return status.Error(codes.Internal, "Internal service error")
}

// authenticatedServerStream wraps a grpc.ServerStream with the authorized context.
type authenticatedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the authorized context.
func (s *authenticatedServerStream) Context() context.Context {
	return s.ctx
}

var _ KeySource = (*certs.Refresher)(nil)
var _ TokenValidator = (*token.Validator)(nil)
