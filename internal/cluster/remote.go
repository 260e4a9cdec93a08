package cluster

import (
	"context"

	"github.com/oriys/pulsar/internal/action"
	"github.com/oriys/pulsar/internal/executor"
)

// RemoteInvoker implements executor.Invoker by resolving the peer that serves
// an action and forwarding the call through a Proxy. A peer-side failure is
// returned as a remote-execution error.
type RemoteInvoker struct {
	proxy    *Proxy
	registry *action.Registry
	resolver Resolver
}

var _ executor.Invoker = (*RemoteInvoker)(nil)

// NewRemoteInvoker creates a remote invoker. resolver may be nil when every
// call names its peer through InvokePeer.
func NewRemoteInvoker(proxy *Proxy, reg *action.Registry, resolver Resolver) *RemoteInvoker {
	return &RemoteInvoker{proxy: proxy, registry: reg, resolver: resolver}
}

// Proxy returns the proxy calls are forwarded through.
func (r *RemoteInvoker) Proxy() *Proxy { return r.proxy }

// Resolve returns the peer serving id.
func (r *RemoteInvoker) Resolve(ctx context.Context, id action.Identifier) (string, error) {
	if r.resolver == nil {
		return "", notFound(id)
	}
	return r.resolver.Resolve(ctx, id)
}

// Invoke implements executor.Invoker.
func (r *RemoteInvoker) Invoke(ctx context.Context, id action.Identifier, req action.Request) (action.Response, error) {
	peer, err := r.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.InvokePeer(ctx, id, req, peer)
}

// InvokePeer forwards the call to an explicit peer.
func (r *RemoteInvoker) InvokePeer(ctx context.Context, id action.Identifier, req action.Request, peer string) (action.Response, error) {
	entry, ok := r.registry.Lookup(id)
	if !ok {
		return nil, action.UnknownActionError(id)
	}
	res, err := r.proxy.Invoke(ctx, entry.Type, req, peer)
	if err != nil {
		return nil, err
	}
	if res.Failure != nil {
		return nil, res.Failure
	}
	return res.Response, nil
}
