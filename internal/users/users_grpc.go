package users

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Names of the Users service on the wire.
const (
	ServiceName       = "gateway.service.Users"
	GetUserFullMethod = "/gateway.service.Users/GetUser"
)

// UsersServer is the server API for the Users service.
type UsersServer interface {
	GetUser(ctx context.Context, in *emptypb.Empty) (*wrapperspb.StringValue, error)
}

// UsersClient is the client API for the Users service.
type UsersClient interface {
	GetUser(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
}

type usersClient struct {
	cc grpc.ClientConnInterface
}

// NewUsersClient creates a client for the Users service.
func NewUsersClient(cc grpc.ClientConnInterface) UsersClient {
	return &usersClient{cc: cc}
}

func (c *usersClient) GetUser(
	ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption,
) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, GetUserFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterUsersServer registers srv with s.
func RegisterUsersServer(s grpc.ServiceRegistrar, srv UsersServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func getUserHandler(
	srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(UsersServer).GetUser(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetUserFullMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(UsersServer).GetUser(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc describes the Users service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*UsersServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetUser",
			Handler:    getUserHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gateway/service/users.proto",
}
