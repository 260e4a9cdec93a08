package cluster

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/pulsar/internal/logging"
)

// BalancedTransport spreads envelopes across a peer group. A peer address
// listing several endpoints separated by commas, e.g.
// "grpc://a:9000,grpc://b:9000", is sent to the least-loaded endpoint; a
// single address goes straight to the inner transport.
//
// Load is the number of envelopes in flight to an endpoint. Ties go to the
// endpoint with the lower average reply latency, then to the one listed
// first. An endpoint with no replies yet counts as the fastest.
type BalancedTransport struct {
	inner Transport

	mu        sync.Mutex
	endpoints map[string]*peerEndpoint
}

type peerEndpoint struct {
	addr     string
	inflight atomic.Int64
	latency  atomic.Int64 // moving average of successful replies, in ns
}

// latencyWeight is the share of a new sample in the moving average, as 1/n.
const latencyWeight = 8

func (ep *peerEndpoint) observe(d time.Duration) {
	for {
		old := ep.latency.Load()
		next := int64(d)
		if old != 0 {
			next = old + (int64(d)-old)/latencyWeight
		}
		if ep.latency.CompareAndSwap(old, next) {
			return
		}
	}
}

var _ Transport = (*BalancedTransport)(nil)

// NewBalancedTransport wraps inner with least-loaded peer group selection.
func NewBalancedTransport(inner Transport) *BalancedTransport {
	return &BalancedTransport{
		inner:     inner,
		endpoints: make(map[string]*peerEndpoint),
	}
}

// Send implements Transport.
func (b *BalancedTransport) Send(ctx context.Context, peer string, envelope []byte) ([]byte, error) {
	group := splitPeerGroup(peer)
	if len(group) <= 1 {
		return b.inner.Send(ctx, peer, envelope)
	}

	ep := b.leastLoaded(group)
	ep.inflight.Add(1)
	defer ep.inflight.Add(-1)

	start := time.Now()
	reply, err := b.inner.Send(ctx, ep.addr, envelope)
	if err != nil {
		return nil, fmt.Errorf("via %s: %w", ep.addr, err)
	}
	ep.observe(time.Since(start))
	return reply, nil
}

// Close closes the inner transport when it holds connections.
func (b *BalancedTransport) Close() error {
	if c, ok := b.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (b *BalancedTransport) endpoint(addr string) *peerEndpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	ep, ok := b.endpoints[addr]
	if !ok {
		ep = &peerEndpoint{addr: addr}
		b.endpoints[addr] = ep
		logging.Op().Debug("peer endpoint tracked", "addr", addr, "strategy", "least-loaded")
	}
	return ep
}

// leastLoaded returns the endpoint with the fewest envelopes in flight.
func (b *BalancedTransport) leastLoaded(group []string) *peerEndpoint {
	best := b.endpoint(group[0])
	bestInflight, bestLatency := best.inflight.Load(), best.latency.Load()
	for _, addr := range group[1:] {
		ep := b.endpoint(addr)
		inflight, latency := ep.inflight.Load(), ep.latency.Load()
		if inflight < bestInflight || (inflight == bestInflight && latency < bestLatency) {
			best, bestInflight, bestLatency = ep, inflight, latency
		}
	}
	return best
}

func splitPeerGroup(peer string) []string {
	if !strings.Contains(peer, ",") {
		return []string{peer}
	}
	var group []string
	for _, p := range strings.Split(peer, ",") {
		if p = strings.TrimSpace(p); p != "" {
			group = append(group, p)
		}
	}
	return group
}
