package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service and method names on the wire. Messages are google.protobuf.Struct,
// so no generated code is involved.
const (
	ServiceName               = "matchkeeper.v1.Matcher"
	MatcherEvaluateFullMethod = "/" + ServiceName + "/Evaluate"
)

// MatcherServer is the server API for the Matcher service.
type MatcherServer interface {
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// MatcherServiceDesc describes the Matcher service for grpc.Server.
var MatcherServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MatcherServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Evaluate",
			Handler:    matcherEvaluateHandler,
		},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterMatcherServer registers srv on s.
func RegisterMatcherServer(s grpc.ServiceRegistrar, srv MatcherServer) {
	s.RegisterService(&MatcherServiceDesc, srv)
}

func matcherEvaluateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MatcherServer).Evaluate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: MatcherEvaluateFullMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MatcherServer).Evaluate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// MatcherClient calls the Matcher service.
type MatcherClient struct {
	cc grpc.ClientConnInterface
}

// NewMatcherClient wraps a client connection.
func NewMatcherClient(cc grpc.ClientConnInterface) *MatcherClient {
	return &MatcherClient{cc: cc}
}

// Evaluate sends one record and returns the outcome struct.
func (c *MatcherClient) Evaluate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MatcherEvaluateFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
