// Package dispatch is the caller-facing entry point for running actions.
//
// A Client looks an action up in the registry and routes it to the local
// executor when a handler is registered in-process, or through the remote
// proxy when the action is a remote marker or the caller names a peer. Every
// call runs behind a pending.Call, so the outcome is delivered exactly once,
// either a response, an error or a timeout.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oriys/pulsar/internal/action"
	"github.com/oriys/pulsar/internal/cluster"
	"github.com/oriys/pulsar/internal/executor"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/metrics"
	"github.com/oriys/pulsar/internal/observability"
	"github.com/oriys/pulsar/internal/pending"
)

// DefaultTimeout bounds a call when neither the client nor the caller sets
// one.
const DefaultTimeout = 10 * time.Second

// Callback receives the outcome of Execute. Exactly one of resp and err is
// non-nil.
type Callback func(resp action.Response, err error)

// Client dispatches actions.
type Client struct {
	registry *action.Registry
	local    *executor.Local
	remote   *cluster.RemoteInvoker
	timeout  time.Duration
	logger   *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRemoteInvoker enables the remote route.
func WithRemoteInvoker(r *cluster.RemoteInvoker) Option {
	return func(c *Client) {
		c.remote = r
	}
}

// WithDefaultTimeout sets the timeout used when a call does not set its own.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger records every settled call in the call log.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a client over reg.
func New(reg *action.Registry, opts ...Option) *Client {
	c := &Client{
		registry: reg,
		local:    executor.NewLocal(reg),
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the registry calls are resolved against.
func (c *Client) Registry() *action.Registry { return c.registry }

// Timeout returns the timeout applied to calls without their own.
func (c *Client) Timeout() time.Duration { return c.timeout }

// CallOption adjusts a single call.
type CallOption func(*callOptions)

type callOptions struct {
	peer    string
	timeout time.Duration
}

// WithRemote sends the call to peer even if a local handler exists.
func WithRemote(peer string) CallOption {
	return func(o *callOptions) {
		o.peer = peer
	}
}

// WithTimeout overrides the client's default timeout for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// route is where a call was resolved to run.
type route struct {
	name string
	peer string
}

// Future starts the call and returns its completion slot. It fails
// synchronously, without starting anything, when the action is not
// registered or a remote action cannot be resolved to a peer.
func (c *Client) Future(ctx context.Context, id action.Identifier, req action.Request, opts ...CallOption) (*pending.Call[action.Response], error) {
	o := callOptions{timeout: c.timeout}
	for _, opt := range opts {
		opt(&o)
	}

	r, err := c.resolve(ctx, id, o.peer)
	if err != nil {
		return nil, err
	}

	ctx, span := observability.StartSpan(ctx, "action.dispatch",
		observability.AttrAction.String(string(id)),
		observability.AttrRoute.String(r.name),
	)
	if r.peer != "" {
		span.SetAttributes(observability.AttrPeer.String(r.peer))
	}
	metrics.IncInflight()

	call := pending.Run(ctx, id, o.timeout, func(ctx context.Context) (action.Response, error) {
		ctx = executor.WithCallID(ctx, pending.IDFromContext(ctx))
		if r.name == metrics.RouteLocal {
			return c.local.Invoke(ctx, id, req)
		}
		return c.remote.InvokePeer(ctx, id, req, r.peer)
	})
	span.SetAttributes(observability.AttrCallID.String(call.ID()))

	call.OnSettle(func(_ action.Response, err error) {
		metrics.DecInflight()
		elapsed := call.Elapsed().Milliseconds()
		metrics.Global().RecordDispatch(string(id), r.name, elapsed, err == nil)
		if kind := action.KindOf(err); err != nil && kind != action.KindUnknown {
			span.SetAttributes(observability.AttrErrorKind.String(string(kind)))
		}
		observability.EndSpan(span, err)
		c.logCall(ctx, call, r, elapsed, err)
	})
	return call, nil
}

func (c *Client) resolve(ctx context.Context, id action.Identifier, peer string) (route, error) {
	entry, ok := c.registry.Lookup(id)
	if !ok {
		return route{}, action.UnknownActionError(id)
	}
	if peer == "" && !entry.Remote() {
		return route{name: metrics.RouteLocal}, nil
	}
	if c.remote == nil {
		return route{}, unresolvable(id, errRemoteDisabled)
	}
	if peer == "" {
		resolved, err := c.remote.Resolve(ctx, id)
		if errors.Is(err, cluster.ErrPeerNotFound) {
			return route{}, unresolvable(id, err)
		}
		if err != nil {
			return route{}, err
		}
		peer = resolved
	}
	return route{name: metrics.RouteRemote, peer: peer}, nil
}

var errRemoteDisabled = fmt.Errorf("%w: remote dispatch is not configured", cluster.ErrPeerNotFound)

// unresolvable reports a remote contract with no peer as an unknown action.
func unresolvable(id action.Identifier, cause error) error {
	err := action.UnknownActionError(id)
	err.Err = cause
	return err
}

func (c *Client) logCall(ctx context.Context, call *pending.Call[action.Response], r route, elapsed int64, err error) {
	if c.logger == nil {
		return
	}
	entry := &logging.CallLog{
		CallID:     call.ID(),
		TraceID:    observability.TraceID(ctx),
		SpanID:     observability.SpanID(ctx),
		Action:     string(call.Action()),
		Route:      r.name,
		Peer:       r.peer,
		DurationMs: elapsed,
		Success:    err == nil,
		TimedOut:   call.TimedOut(),
	}
	if err != nil {
		entry.Kind = string(action.KindOf(err))
		entry.Error = err.Error()
	}
	c.logger.Log(entry)
}

// Execute starts the call and returns immediately. cb runs exactly once, on
// its own goroutine, with the outcome. A non-nil error means the call was
// rejected before it started and cb will never run.
func (c *Client) Execute(ctx context.Context, id action.Identifier, req action.Request, cb Callback, opts ...CallOption) error {
	call, err := c.Future(ctx, id, req, opts...)
	if err != nil {
		return err
	}
	if cb == nil {
		return nil
	}
	call.OnSettle(func(resp action.Response, err error) {
		executor.SafeGo(func() { cb(resp, err) })
	})
	return nil
}

// ExecuteBlocking runs the call and waits for its outcome. A timeout <= 0
// uses the client default. If ctx is done first the wait is abandoned and
// ctx.Err() is returned; the call itself still settles on its own.
func (c *Client) ExecuteBlocking(ctx context.Context, id action.Identifier, req action.Request, timeout time.Duration, opts ...CallOption) (action.Response, error) {
	if timeout > 0 {
		opts = append(opts, WithTimeout(timeout))
	}
	call, err := c.Future(ctx, id, req, opts...)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

// Proxy sends req to peer as typ and returns the peer's result as is: a
// failure reported by the peer is in Result.Failure, not in the error. An
// empty peer is resolved through the directory.
func (c *Client) Proxy(ctx context.Context, typ action.Type, req action.Request, peer string) (*cluster.Result, error) {
	if c.remote == nil {
		return nil, unresolvable(typ.Name, errRemoteDisabled)
	}
	if peer == "" {
		resolved, err := c.remote.Resolve(ctx, typ.Name)
		if errors.Is(err, cluster.ErrPeerNotFound) {
			return nil, unresolvable(typ.Name, err)
		}
		if err != nil {
			return nil, err
		}
		peer = resolved
	}

	metrics.IncInflight()
	defer metrics.DecInflight()

	call := pending.Run(ctx, typ.Name, c.timeout, func(ctx context.Context) (*cluster.Result, error) {
		return c.remote.Proxy().Invoke(ctx, typ, req, peer)
	})
	res, err := call.Wait(ctx)
	metrics.Global().RecordDispatch(string(typ.Name), metrics.RouteRemote, call.Elapsed().Milliseconds(), err == nil && res.Err() == nil)
	return res, err
}
