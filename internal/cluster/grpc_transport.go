package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	actionServiceName = "pulsar.actions.v1.ActionService"
	executeMethod     = "/" + actionServiceName + "/Execute"

	forwardedMetadataKey = "x-pulsar-forwarded"
)

// GRPCTransport sends envelopes as the single unary Execute call of the
// action service. Connections are cached per address.
type GRPCTransport struct {
	dialOpts []grpc.DialOption

	connsMu sync.Mutex
	conns   map[string]*grpc.ClientConn
	dials   singleflight.Group
}

var _ Transport = (*GRPCTransport)(nil)

// NewGRPCTransport creates a gRPC transport. Without options it uses
// plaintext credentials and OpenTelemetry client instrumentation.
func NewGRPCTransport(opts ...grpc.DialOption) *GRPCTransport {
	if len(opts) == 0 {
		opts = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		}
	}
	return &GRPCTransport{
		dialOpts: opts,
		conns:    make(map[string]*grpc.ClientConn),
	}
}

// Send implements Transport.
func (t *GRPCTransport) Send(ctx context.Context, peer string, envelope []byte) ([]byte, error) {
	_, addr, err := ParsePeer(peer)
	if err != nil {
		return nil, err
	}
	conn, err := t.getConn(addr)
	if err != nil {
		return nil, err
	}

	out := &wrapperspb.BytesValue{}
	if err := conn.Invoke(withForwardedMetadata(ctx), executeMethod, wrapperspb.Bytes(envelope), out); err != nil {
		return nil, fmt.Errorf("grpc execute: %w", err)
	}
	return out.GetValue(), nil
}

func (t *GRPCTransport) getConn(addr string) (*grpc.ClientConn, error) {
	t.connsMu.Lock()
	if conn, ok := t.conns[addr]; ok {
		t.connsMu.Unlock()
		return conn, nil
	}
	t.connsMu.Unlock()

	v, err, _ := t.dials.Do(addr, func() (any, error) {
		t.connsMu.Lock()
		if conn, ok := t.conns[addr]; ok {
			t.connsMu.Unlock()
			return conn, nil
		}
		t.connsMu.Unlock()

		conn, err := grpc.NewClient(addr, t.dialOpts...)
		if err != nil {
			return nil, fmt.Errorf("dial peer gRPC %s: %w", addr, err)
		}

		t.connsMu.Lock()
		t.conns[addr] = conn
		t.connsMu.Unlock()
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*grpc.ClientConn), nil
}

// Close shuts down every cached connection.
func (t *GRPCTransport) Close() error {
	t.connsMu.Lock()
	defer t.connsMu.Unlock()

	var errs []error
	for addr, conn := range t.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", addr, err))
		}
		delete(t.conns, addr)
	}
	return errors.Join(errs...)
}

func withForwardedMetadata(ctx context.Context) context.Context {
	outgoing, _ := metadata.FromOutgoingContext(ctx)
	md := metadata.MD{}
	for k, v := range outgoing {
		md[k] = append([]string(nil), v...)
	}

	// Preserve the request ID if this call originates from an inbound gRPC
	// request.
	if incoming, ok := metadata.FromIncomingContext(ctx); ok {
		if len(md.Get("x-request-id")) == 0 {
			if values := incoming.Get("x-request-id"); len(values) > 0 {
				md["x-request-id"] = append([]string(nil), values...)
			}
		}
	}

	md.Set(forwardedMetadataKey, "true")
	return metadata.NewOutgoingContext(ctx, md)
}

// actionServiceServer is the server side of the action service.
type actionServiceServer interface {
	Execute(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

var actionServiceDesc = grpc.ServiceDesc{
	ServiceName: actionServiceName,
	HandlerType: (*actionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Execute",
			Handler:    executeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pulsar/actions/v1/actions.proto",
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := &wrapperspb.BytesValue{}
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(actionServiceServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: executeMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(actionServiceServer).Execute(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// grpcService adapts a Server to the action service.
type grpcService struct {
	server *Server
}

func (g *grpcService) Execute(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return wrapperspb.Bytes(g.server.Handle(ctx, in.GetValue())), nil
}

// RegisterGRPC exposes the server as the action service on gs.
func (s *Server) RegisterGRPC(gs grpc.ServiceRegistrar) {
	gs.RegisterService(&actionServiceDesc, &grpcService{server: s})
}
