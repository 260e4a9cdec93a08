package grpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/oriys/pulsar/internal/action"
	"github.com/oriys/pulsar/internal/cluster"
	"github.com/oriys/pulsar/internal/sample"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func startBufconn(t *testing.T) (*bufconn.Listener, *cluster.Server) {
	t.Helper()
	peer := cluster.NewServer()
	if err := sample.Serve(peer); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	peer.Seal()

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(peer)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return lis, peer
}

func dialer(lis *bufconn.Listener) grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func TestServer_ExecuteAndHealth(t *testing.T) {
	lis, _ := startBufconn(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr := cluster.NewGRPCTransport(dialer(lis), grpc.WithTransportCredentials(insecure.NewCredentials()))
	t.Cleanup(func() { tr.Close() })

	reg := action.NewRegistry()
	sample.RegisterRemote(reg)
	res, err := cluster.NewProxy(reg, tr, nil).Invoke(ctx, sample.SampleAction, &sample.SampleRequest{Name: "world"}, "grpc://passthrough:///bufnet")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got := res.Response.(*sample.SampleResponse).Greeting; got != "Hello, world" {
		t.Fatalf("expected Hello, world, got %q", got)
	}

	conn, err := grpc.NewClient("passthrough:///bufnet", dialer(lis), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer conn.Close()
	hc, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if hc.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", hc.GetStatus())
	}
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{err: action.UnknownActionError("x/y"), want: codes.NotFound},
		{err: action.InvalidArgumentError("x/y", sample.ErrBlankName), want: codes.InvalidArgument},
		{err: action.TimeoutError("x/y", time.Second), want: codes.DeadlineExceeded},
		{err: action.TransportError("x/y", "grpc://p", errors.New("refused")), want: codes.Unavailable},
		{err: errors.New("plain"), want: codes.Internal},
		{err: status.Error(codes.PermissionDenied, "no"), want: codes.PermissionDenied},
	}
	for _, tt := range tests {
		if got := status.Code(toStatus(tt.err)); got != tt.want {
			t.Errorf("%v: expected %s, got %s", tt.err, tt.want, got)
		}
	}
}
