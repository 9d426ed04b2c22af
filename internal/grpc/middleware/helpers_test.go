package middleware

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

const testMethod = "/gateway.service.Users/GetUser"

// testStream is a grpc.ServerStream with a fixed context that records headers.
type testStream struct {
	grpc.ServerStream
	ctx    context.Context
	header metadata.MD
}

func (s *testStream) Context() context.Context {
	return s.ctx
}

func (s *testStream) SetHeader(md metadata.MD) error {
	s.header = metadata.Join(s.header, md)
	return nil
}

func unaryInfo() *grpc.UnaryServerInfo {
	return &grpc.UnaryServerInfo{FullMethod: testMethod}
}

func streamInfo() *grpc.StreamServerInfo {
	return &grpc.StreamServerInfo{FullMethod: "/gateway.service.Users/Watch", IsServerStream: true}
}

func okHandler(context.Context, interface{}) (interface{}, error) {
	return "ok", nil
}

func withPeer(ctx context.Context, addr string) context.Context {
	tcp, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		panic(err)
	}
	return peer.NewContext(ctx, &peer.Peer{Addr: tcp})
}
