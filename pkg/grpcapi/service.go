package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ipfwd.v1.Forwarder"

// ForwarderServer is the server API for the Forwarder service. Messages
// are protobuf well-known types so no generated code is needed on either
// side.
type ForwarderServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetStatistics(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListRoutes(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	ListNeighbors(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	ListInterfaces(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	Lookup(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	GetEvents(context.Context, *structpb.Struct) (*structpb.ListValue, error)
	Reload(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Complete(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error)
	mustEmbedUnimplementedForwarderServer()
}

// UnimplementedForwarderServer must be embedded by every ForwarderServer
// so methods added to the service later answer Unimplemented.
type UnimplementedForwarderServer struct{}

func (UnimplementedForwarderServer) GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetStatus not implemented")
}
func (UnimplementedForwarderServer) GetStatistics(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetStatistics not implemented")
}
func (UnimplementedForwarderServer) ListRoutes(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	return nil, status.Error(codes.Unimplemented, "method ListRoutes not implemented")
}
func (UnimplementedForwarderServer) ListNeighbors(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	return nil, status.Error(codes.Unimplemented, "method ListNeighbors not implemented")
}
func (UnimplementedForwarderServer) ListInterfaces(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	return nil, status.Error(codes.Unimplemented, "method ListInterfaces not implemented")
}
func (UnimplementedForwarderServer) Lookup(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Lookup not implemented")
}
func (UnimplementedForwarderServer) GetEvents(context.Context, *structpb.Struct) (*structpb.ListValue, error) {
	return nil, status.Error(codes.Unimplemented, "method GetEvents not implemented")
}
func (UnimplementedForwarderServer) Reload(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Reload not implemented")
}
func (UnimplementedForwarderServer) Complete(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Complete not implemented")
}
func (UnimplementedForwarderServer) mustEmbedUnimplementedForwarderServer() {}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary builds a MethodDesc for one RPC, decoding into a fresh Req and
// honouring any server interceptor.
func unary[Req proto.Message, Resp proto.Message](name string, newReq func() Req,
	call func(ForwarderServer, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	full := fullMethod(name)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			h := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ForwarderServer), ctx, req.(Req))
			}
			if interceptor == nil {
				return h(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: full}, h)
		},
	}
}

func newEmpty() *emptypb.Empty {
	return new(emptypb.Empty)
}

func newString() *wrapperspb.StringValue {
	return new(wrapperspb.StringValue)
}

func newStruct() *structpb.Struct {
	return new(structpb.Struct)
}

var forwarderServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ForwarderServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", newEmpty, ForwarderServer.GetStatus),
		unary("GetStatistics", newEmpty, ForwarderServer.GetStatistics),
		unary("ListRoutes", newEmpty, ForwarderServer.ListRoutes),
		unary("ListNeighbors", newEmpty, ForwarderServer.ListNeighbors),
		unary("ListInterfaces", newEmpty, ForwarderServer.ListInterfaces),
		unary("Lookup", newString, ForwarderServer.Lookup),
		unary("GetEvents", newStruct, ForwarderServer.GetEvents),
		unary("Reload", newEmpty, ForwarderServer.Reload),
		unary("Complete", newString, ForwarderServer.Complete),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ipfwd/v1/forwarder.proto",
}

// RegisterForwarderServer registers srv on s.
func RegisterForwarderServer(s grpc.ServiceRegistrar, srv ForwarderServer) {
	s.RegisterService(&forwarderServiceDesc, srv)
}
