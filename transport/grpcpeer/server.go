package grpcpeer

import (
	"context"
	"net"

	"github.com/kvswarm/kvswarm/ids"
	"github.com/kvswarm/kvswarm/log"
	"github.com/kvswarm/kvswarm/transport"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Server exposes a transport.Endpoint over gRPC, the way
// flock/server.GRPC exposes a FlockHost: construct one per process,
// register it against a grpc.Server, and Serve a listener.
type Server struct {
	ep transport.Endpoint

	grpcServer *grpc.Server
}

// NewServer wraps ep (typically a *transport.Router) for gRPC
// delivery.
func NewServer(ep transport.Endpoint) *Server {
	s := &Server{ep: ep, grpcServer: grpc.NewServer()}
	s.grpcServer.RegisterService(&serviceDesc, s)

	return s
}

// Listen blocks serving gRPC connections on lis.
func (s *Server) Listen(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop gracefully stops the underlying grpc.Server.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

func (s *Server) dispatch(ctx context.Context, in *envelope) (*envelope, error) {
	from := ids.NewPeerId(in.from)
	ctx = log.WithFields(ctx, zap.String("peer", in.from), zap.String("message_type", in.msgType))

	resp, err := s.ep.Dispatch(ctx, from, transport.MessageType(in.msgType), in.payload)

	if err != nil {
		return nil, err
	}

	return &envelope{payload: resp}, nil
}
