package users

import (
	"context"

	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/vyrodovalexey/tokengate/internal/auth"
	"github.com/vyrodovalexey/tokengate/internal/observability"
)

// Service answers GetUser with the identity established by the auth
// interceptor.
type Service struct {
	logger observability.Logger
}

// ServiceOption is a functional option for the Service.
type ServiceOption func(*Service)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a Users service.
func NewService(opts ...ServiceOption) *Service {
	s := &Service{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetUser returns the caller id. Calls that bypassed authentication get
// Unauthenticated.
func (s *Service) GetUser(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	id, err := auth.UserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).Debug("user resolved", observability.String("user_id", id))

	return wrapperspb.String(id), nil
}

var _ UsersServer = (*Service)(nil)
