package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oriys/pulsar/internal/action"
	"github.com/oriys/pulsar/internal/codec"
	"github.com/oriys/pulsar/internal/metrics"
	"github.com/oriys/pulsar/internal/observability"
	"github.com/oriys/pulsar/internal/wire"
)

const replySchema = "wire.Reply"

// Result is the outcome of a remote invocation that reached the peer and got
// a well-formed reply. Exactly one of Response and Failure is set. Failure
// holds the peer's business failure as a remote-execution error.
type Result struct {
	Response action.Response
	Failure  error
	Peer     string
}

// Err returns the peer-side failure, if any.
func (r *Result) Err() error {
	if r == nil {
		return nil
	}
	return r.Failure
}

// Proxy forwards action requests to peers.
type Proxy struct {
	registry  *action.Registry
	transport Transport
	codec     codec.Codec
}

// NewProxy creates a proxy that accepts the contracts known to reg and
// encodes payloads with c. A nil reg accepts any contract with a response
// factory.
func NewProxy(reg *action.Registry, transport Transport, c codec.Codec) *Proxy {
	if c == nil {
		c = codec.Proto{}
	}
	return &Proxy{registry: reg, transport: transport, codec: c}
}

// Codec returns the codec used to encode request payloads.
func (p *Proxy) Codec() codec.Codec { return p.codec }

// Invoke sends req to peer as typ and decodes the reply. The returned error
// covers every failure before a well-formed reply arrives; a failure the
// peer reports is returned as Result.Failure with a nil error. The envelope
// is sent at most once.
func (p *Proxy) Invoke(ctx context.Context, typ action.Type, req action.Request, peer string) (res *Result, err error) {
	id := typ.Name
	if !p.known(typ) {
		return nil, action.UnknownActionError(id)
	}
	if req == nil {
		return nil, action.InvalidArgumentError(id, errors.New("request is nil"))
	}
	if verr := req.Validate(); verr != nil {
		return nil, action.InvalidArgumentError(id, verr)
	}

	scheme, _, err := ParsePeer(peer)
	if err != nil {
		return nil, action.TransportError(id, peer, err)
	}

	ctx, span := observability.StartClientSpan(ctx, "action.proxy",
		observability.AttrAction.String(string(id)),
		observability.AttrPeer.String(peer),
		observability.AttrTransport.String(scheme),
		observability.AttrCodec.String(p.codec.Name()),
	)
	defer func() {
		if err == nil && res != nil && res.Failure != nil {
			span.SetAttributes(observability.AttrErrorKind.String(string(action.KindRemoteExecution)))
		}
		observability.EndSpan(span, err)
	}()

	payload, err := p.codec.Encode(req)
	if err != nil {
		return nil, err
	}

	out := &wire.Request{Action: string(id), Payload: payload}
	observability.StampEnvelope(ctx, out)
	envelope, err := out.Marshal()
	if err != nil {
		return nil, action.SerializationError(req.Schema(), err)
	}

	start := time.Now()
	raw, err := p.transport.Send(ctx, peer, envelope)
	metrics.RecordPeerRequest(scheme, time.Since(start).Milliseconds(), err)
	if err != nil {
		return nil, action.TransportError(id, peer, err)
	}

	reply, err := wire.UnmarshalReply(raw)
	if err != nil {
		return nil, action.DeserializationError(replySchema, err)
	}
	if !reply.Success {
		desc := reply.Error
		if desc == "" {
			desc = fmt.Sprintf("action [%s] failed on peer %s", id, peer)
		}
		return &Result{Failure: action.RemoteExecutionError(id, desc), Peer: peer}, nil
	}

	resp, err := codec.DecodeResponse(p.codec, reply.Payload, typ)
	if err != nil {
		return nil, err
	}
	return &Result{Response: resp, Peer: peer}, nil
}

func (p *Proxy) known(typ action.Type) bool {
	if typ.Name == "" || typ.NewResponse == nil {
		return false
	}
	if p.registry == nil {
		return true
	}
	_, ok := p.registry.Lookup(typ.Name)
	return ok
}
