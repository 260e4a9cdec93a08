package cluster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oriys/pulsar/internal/action"
	"github.com/oriys/pulsar/internal/circuitbreaker"
	"github.com/oriys/pulsar/internal/sample"
)

var breakerConfig = circuitbreaker.Config{
	ErrorPct:       50,
	MinRequests:    2,
	WindowDuration: time.Minute,
	OpenDuration:   time.Minute,
	HalfOpenTrials: 1,
}

func TestBreakerTransport_OpensAfterFailures(t *testing.T) {
	calls := map[string]int{}
	bt := NewBreakerTransport(transportFunc(func(ctx context.Context, peer string, envelope []byte) ([]byte, error) {
		calls[peer]++
		if peer == "local://down" {
			return nil, errors.New("connection refused")
		}
		return []byte("ok"), nil
	}), breakerConfig)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := bt.Send(ctx, "local://down", nil); err == nil {
			t.Fatal("expected transport error")
		}
	}

	_, err := bt.Send(ctx, "local://down", nil)
	if !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if calls["local://down"] != 2 {
		t.Fatalf("open breaker must not reach the peer, got %d calls", calls["local://down"])
	}

	if _, err := bt.Send(ctx, "local://up", nil); err != nil {
		t.Fatalf("healthy peer should be unaffected: %v", err)
	}
	if states := bt.States(); states["local://down"] != "open" || states["local://up"] != "closed" {
		t.Fatalf("unexpected states %v", states)
	}
}

func TestBreakerTransport_CancelledCallsDoNotCount(t *testing.T) {
	bt := NewBreakerTransport(transportFunc(func(ctx context.Context, peer string, envelope []byte) ([]byte, error) {
		return nil, ctx.Err()
	}), breakerConfig)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		if _, err := bt.Send(ctx, "local://a", nil); errors.Is(err, circuitbreaker.ErrOpen) {
			t.Fatal("cancelled calls must not open the breaker")
		}
	}
}

func TestBreakerTransport_Disabled(t *testing.T) {
	bt := NewBreakerTransport(transportFunc(func(ctx context.Context, peer string, envelope []byte) ([]byte, error) {
		return nil, errors.New("down")
	}), circuitbreaker.Config{})
	for i := 0; i < 5; i++ {
		if _, err := bt.Send(context.Background(), "local://a", nil); errors.Is(err, circuitbreaker.ErrOpen) {
			t.Fatal("disabled breaker must never open")
		}
	}
}

func TestBreakerTransport_RemoteFailureIsNotTransportFailure(t *testing.T) {
	peer := NewServer()
	if err := peer.RegisterHandler(failType, sample.NewSampleRequest, action.HandlerFunc(
		func(ctx context.Context, req action.Request) (action.Response, error) {
			return nil, errGreetingRefused
		})); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}
	lt := NewLocalTransport()
	lt.Bind("peer", peer)

	reg := action.NewRegistry()
	if err := reg.RegisterRemote(failType); err != nil {
		t.Fatalf("RegisterRemote: %v", err)
	}
	p := NewProxy(reg, NewBreakerTransport(lt, breakerConfig), nil)

	for i := 0; i < 3; i++ {
		res, err := p.Invoke(context.Background(), failType, &sample.SampleRequest{Name: "world"}, "local://peer")
		if err != nil {
			t.Fatalf("call %d: expected a reply, got %v", i, err)
		}
		if res.Failure == nil {
			t.Fatalf("call %d: expected a remote failure", i)
		}
	}
}
