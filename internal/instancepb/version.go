package instancepb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ProtoVersion is the compiled-in protocol version. Client and server must
// agree exactly; there is no negotiation.
const ProtoVersion = "warmpool.v1"

const versionHeader = "proto_version"

// ClientVersionInterceptor attaches the protocol version to every outgoing
// RPC as metadata.
func ClientVersionInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, versionHeader, ProtoVersion)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// ServerVersionInterceptor rejects requests whose protocol version is
// missing or does not match ProtoVersion.
func ServerVersionInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.FailedPrecondition, "No version supplied")
		}
		vals := md.Get(versionHeader)
		if len(vals) == 0 {
			return nil, status.Error(codes.FailedPrecondition, "No version supplied")
		}
		if vals[0] != ProtoVersion {
			return nil, status.Error(codes.FailedPrecondition, "Wrong protocol versions")
		}
		return handler(ctx, req)
	}
}
