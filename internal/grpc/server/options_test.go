package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/vyrodovalexey/tokengate/internal/observability"
)

func TestOptions(t *testing.T) {
	t.Parallel()

	unary := func(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, h grpc.UnaryHandler) (interface{}, error) {
		return h(ctx, req)
	}
	stream := func(srv interface{}, ss grpc.ServerStream, _ *grpc.StreamServerInfo, h grpc.StreamHandler) error {
		return h(srv, ss)
	}
	kp := keepalive.ServerParameters{Time: time.Minute}
	logger := observability.NopLogger()

	srv, err := New(nil,
		WithAddress(":0"),
		WithLogger(logger),
		WithMaxConcurrentStreams(7),
		WithMaxRecvMsgSize(1024),
		WithMaxSendMsgSize(2048),
		WithKeepaliveParams(kp),
		WithUnaryInterceptors(unary, unary),
		WithStreamInterceptors(stream),
		WithReflection(true),
		WithHealthService(false),
		WithConnectionTimeout(3*time.Second),
		WithService(&grpc.ServiceDesc{ServiceName: "a"}, struct{}{}),
	)
	require.NoError(t, err)

	assert.Equal(t, uint32(7), srv.maxConcurrentStreams)
	assert.Equal(t, 1024, srv.maxRecvMsgSize)
	assert.Equal(t, 2048, srv.maxSendMsgSize)
	require.NotNil(t, srv.keepaliveParams)
	assert.Equal(t, time.Minute, srv.keepaliveParams.Time)
	assert.Len(t, srv.unaryInterceptors, 2)
	assert.Len(t, srv.streamInterceptors, 1)
	assert.True(t, srv.reflectionEnabled)
	assert.False(t, srv.healthServiceEnabled)
	assert.Equal(t, 3*time.Second, srv.connectionTimeout)
	assert.Len(t, srv.services, 1)
	assert.Same(t, logger, srv.logger)

	// limits, timeout, keepalive and two interceptor chains
	assert.Len(t, srv.buildServerOptions(), 7)
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	srv, err := New(nil, WithAddress(":0"))
	require.NoError(t, err)

	assert.Equal(t, uint32(DefaultMaxConcurrentStreams), srv.maxConcurrentStreams)
	assert.Equal(t, DefaultMaxMsgSize, srv.maxRecvMsgSize)
	assert.Equal(t, DefaultConnectionTimeout, srv.connectionTimeout)
	assert.Equal(t, DefaultGracefulStopTimeout, srv.gracefulStopTimeout)
	assert.True(t, srv.healthServiceEnabled)
	assert.Len(t, srv.buildServerOptions(), 4)
}
