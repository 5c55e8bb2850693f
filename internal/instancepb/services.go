package instancepb

import (
	"context"

	"google.golang.org/grpc"
)

// Full method names for the three services of the instance manager proto.
const (
	MethodTryAddInstance               = "/warmpool.TryService/TryAddInstance"
	MethodTryUpdateInstanceDescription = "/warmpool.TryService/TryUpdateInstanceDescription"
	MethodPostInstanceDescription      = "/warmpool.PostService/PostInstanceDescription"
	MethodGetAllInstances              = "/warmpool.GetService/GetAllInstances"
	MethodGetInstance                  = "/warmpool.GetService/GetInstance"
)

// TryServer is the conditional-mutation surface of the registry.
type TryServer interface {
	TryAddInstance(context.Context, *InstanceDescription) (*BoolValue, error)
	TryUpdateInstanceDescription(context.Context, *InstanceDescription) (*BoolValue, error)
}

// PostServer is the best-effort metrics surface of the registry.
type PostServer interface {
	PostInstanceDescription(context.Context, *InstanceDescription) (*BoolValue, error)
}

// GetServer is the read surface of the registry.
type GetServer interface {
	GetAllInstances(context.Context, *AllInstancesQuery) (*AllInstancesResponse, error)
	GetInstance(context.Context, *InstanceRef) (*InstanceDescription, error)
}

// RegisterTryServer registers srv on a gRPC server. The server must be
// constructed with grpc.ForceServerCodec(Codec{}).
func RegisterTryServer(s grpc.ServiceRegistrar, srv TryServer) {
	s.RegisterService(&tryServiceDesc, srv)
}

// RegisterPostServer registers srv on a gRPC server.
func RegisterPostServer(s grpc.ServiceRegistrar, srv PostServer) {
	s.RegisterService(&postServiceDesc, srv)
}

// RegisterGetServer registers srv on a gRPC server.
func RegisterGetServer(s grpc.ServiceRegistrar, srv GetServer) {
	s.RegisterService(&getServiceDesc, srv)
}

func unaryHandler[Req, Resp any](method string, call func(context.Context, *Req) (*Resp, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(ctx, req.(*Req))
		})
	}
}

var tryServiceDesc = grpc.ServiceDesc{
	ServiceName: "warmpool.TryService",
	HandlerType: (*TryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "TryAddInstance",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				return unaryHandler(MethodTryAddInstance, srv.(TryServer).TryAddInstance)(srv, ctx, dec, interceptor)
			},
		},
		{
			MethodName: "TryUpdateInstanceDescription",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				return unaryHandler(MethodTryUpdateInstanceDescription, srv.(TryServer).TryUpdateInstanceDescription)(srv, ctx, dec, interceptor)
			},
		},
	},
}

var postServiceDesc = grpc.ServiceDesc{
	ServiceName: "warmpool.PostService",
	HandlerType: (*PostServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "PostInstanceDescription",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				return unaryHandler(MethodPostInstanceDescription, srv.(PostServer).PostInstanceDescription)(srv, ctx, dec, interceptor)
			},
		},
	},
}

var getServiceDesc = grpc.ServiceDesc{
	ServiceName: "warmpool.GetService",
	HandlerType: (*GetServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetAllInstances",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				return unaryHandler(MethodGetAllInstances, srv.(GetServer).GetAllInstances)(srv, ctx, dec, interceptor)
			},
		},
		{
			MethodName: "GetInstance",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				return unaryHandler(MethodGetInstance, srv.(GetServer).GetInstance)(srv, ctx, dec, interceptor)
			},
		},
	},
}
