package grpcpeer

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName and methodName back a hand-built grpc.ServiceDesc: with
// no .proto source in the retrieval pack to run protoc against, the
// single "Dispatch" RPC is registered the same way grpc-go's generated
// code would, just written out by hand.
const (
	serviceName = "kvswarm.transport.Peer"
	methodName  = "Dispatch"
)

func dispatchHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(envelope)

	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(*Server).dispatch(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + methodName}

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).dispatch(ctx, req.(*envelope))
	}

	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: methodName,
			Handler:    dispatchHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "kvswarm/transport.proto",
}
