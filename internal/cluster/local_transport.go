package cluster

import (
	"context"
	"fmt"
	"sync"
)

// LocalTransport delivers envelopes to servers in the same process,
// addressed as local://<name>. It still goes through the full encode and
// decode path.
type LocalTransport struct {
	mu      sync.RWMutex
	servers map[string]*Server
}

var _ Transport = (*LocalTransport)(nil)

// NewLocalTransport creates an empty loopback transport.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{servers: make(map[string]*Server)}
}

// Bind makes s reachable as local://name.
func (t *LocalTransport) Bind(name string, s *Server) {
	t.mu.Lock()
	t.servers[name] = s
	t.mu.Unlock()
}

// Send implements Transport.
func (t *LocalTransport) Send(ctx context.Context, peer string, envelope []byte) ([]byte, error) {
	_, name, err := ParsePeer(peer)
	if err != nil {
		return nil, err
	}
	t.mu.RLock()
	s, ok := t.servers[name]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no local peer bound as %q", name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Handle(ctx, append([]byte(nil), envelope...)), nil
}
