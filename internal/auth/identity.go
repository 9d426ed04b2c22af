package auth

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Metadata keys read and written by the interceptor. gRPC lowercases keys.
const (
	AuthorizationMetadataKey = "authorization"
	UserIDMetadataKey        = "x-user-id"
)

// ErrNotAuthenticated is returned to callers that reached a handler without
// an identity.
var ErrNotAuthenticated = status.Error(codes.Unauthenticated, "Please authenticate first")

// UserIDFromContext returns the caller identity written by the interceptor.
func UserIDFromContext(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", ErrNotAuthenticated
	}

	values := md.Get(UserIDMetadataKey)
	if len(values) == 0 || values[0] == "" {
		return "", ErrNotAuthenticated
	}

	return values[0], nil
}

// validMetadataValue reports whether v can be sent as an ASCII metadata value.
func validMetadataValue(v string) bool {
	if v == "" {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < 0x20 || v[i] > 0x7E {
			return false
		}
	}
	return true
}
