package cluster

import (
	"context"
	"fmt"
	"io"

	"github.com/oriys/pulsar/internal/circuitbreaker"
	"github.com/oriys/pulsar/internal/logging"
)

// BreakerTransport rejects envelopes for peers whose breaker is open. Only
// failures to get a reply count against a peer; a failure the peer reports
// inside its reply is a successful exchange.
type BreakerTransport struct {
	inner    Transport
	breakers *circuitbreaker.Registry
}

var _ Transport = (*BreakerTransport)(nil)

// NewBreakerTransport wraps inner with per-peer circuit breaking. A disabled
// cfg passes every envelope through.
func NewBreakerTransport(inner Transport, cfg circuitbreaker.Config) *BreakerTransport {
	return &BreakerTransport{
		inner:    inner,
		breakers: circuitbreaker.NewRegistry(cfg),
	}
}

// Send implements Transport.
func (t *BreakerTransport) Send(ctx context.Context, peer string, envelope []byte) ([]byte, error) {
	b := t.breakers.Get(peer)
	if b == nil {
		return t.inner.Send(ctx, peer, envelope)
	}
	if !b.Allow() {
		return nil, fmt.Errorf("%w for peer %s", circuitbreaker.ErrOpen, peer)
	}

	reply, err := t.inner.Send(ctx, peer, envelope)
	switch {
	case err == nil:
		b.RecordSuccess()
	case ctx.Err() != nil:
		// Caller cancellation does not count against the peer.
		b.RecordSuccess()
	default:
		b.RecordFailure()
		if b.State() == circuitbreaker.StateOpen {
			logging.Op().Warn("peer circuit opened", "peer", peer, "error", err)
		}
	}
	return reply, err
}

// States returns the breaker state per peer.
func (t *BreakerTransport) States() map[string]string {
	return t.breakers.Snapshot()
}

// Close closes the inner transport when it holds connections.
func (t *BreakerTransport) Close() error {
	if c, ok := t.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
