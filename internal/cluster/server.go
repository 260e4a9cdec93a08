package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oriys/pulsar/internal/action"
	"github.com/oriys/pulsar/internal/codec"
	"github.com/oriys/pulsar/internal/executor"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/observability"
	"github.com/oriys/pulsar/internal/pending"
	"github.com/oriys/pulsar/internal/wire"
)

// DefaultServerTimeout bounds a served action when no timeout is configured.
const DefaultServerTimeout = 10 * time.Second

// RouteServed labels executions performed on behalf of a remote caller.
const RouteServed = "served"

// Server is the peer side of the proxy: it decodes request envelopes, runs
// the matching local handler and encodes the reply. It never returns an
// error to the transport; every failure becomes an unsuccessful reply.
type Server struct {
	registry *action.Registry
	local    *executor.Local
	codec    codec.Codec
	timeout  time.Duration
	logger   *logging.Logger

	mu       sync.RWMutex
	requests map[action.Identifier]func() action.Request
}

type ServerOption func(*Server)

// WithServerCodec sets the codec replies are encoded with.
func WithServerCodec(c codec.Codec) ServerOption {
	return func(s *Server) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithServerTimeout bounds each served action.
func WithServerTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithServerLogger records every served call in the call log.
func WithServerLogger(l *logging.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates a peer server with its own registry of served actions.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		registry: action.NewRegistry(),
		codec:    codec.Proto{},
		timeout:  DefaultServerTimeout,
		requests: make(map[action.Identifier]func() action.Request),
	}
	for _, opt := range opts {
		opt(s)
	}
	execOpts := []executor.Option{executor.WithRoute(RouteServed)}
	if s.logger != nil {
		execOpts = append(execOpts, executor.WithLogger(s.logger))
	}
	s.local = executor.NewLocal(s.registry, execOpts...)
	return s
}

// RegisterHandler serves typ with h. newRequest builds the empty request
// that inbound payloads are decoded into.
func (s *Server) RegisterHandler(typ action.Type, newRequest func() action.Request, h action.Handler) error {
	if newRequest == nil {
		return fmt.Errorf("register action [%s]: nil request factory", typ.Name)
	}
	if err := s.registry.Register(typ, h); err != nil {
		return err
	}
	s.mu.Lock()
	s.requests[typ.Name] = newRequest
	s.mu.Unlock()
	return nil
}

// Seal ends registration of served actions.
func (s *Server) Seal() { s.registry.Seal() }

// Registry returns the registry of served actions.
func (s *Server) Registry() *action.Registry { return s.registry }

// Actions lists the served action identifiers in sorted order.
func (s *Server) Actions() []action.Identifier { return s.registry.Names() }

// Handle serves one request envelope and returns the reply envelope.
func (s *Server) Handle(ctx context.Context, envelope []byte) []byte {
	req, err := wire.UnmarshalRequest(envelope)
	if err != nil {
		return failureReply(fmt.Sprintf("malformed request envelope: %v", err))
	}
	id := action.Identifier(req.Action)

	ctx = observability.EnvelopeContext(ctx, req)
	ctx, span := observability.StartServerSpan(ctx, "action.serve",
		observability.AttrAction.String(string(id)),
	)

	payload, err := s.serve(ctx, id, req.Payload)
	observability.EndSpan(span, err)
	if err != nil {
		logging.OpFromContext(ctx).Debug("served action failed",
			"action", string(id),
			"kind", string(action.KindOf(err)),
			"error", err,
		)
		return failureReply(err.Error())
	}
	return successReply(payload)
}

func (s *Server) serve(ctx context.Context, id action.Identifier, payload []byte) ([]byte, error) {
	s.mu.RLock()
	newRequest, ok := s.requests[id]
	s.mu.RUnlock()
	if !ok {
		return nil, action.UnknownActionError(id)
	}

	in := newRequest()
	if err := codec.Decode(payload, in); err != nil {
		return nil, err
	}

	call := pending.Run(ctx, id, s.timeout, func(ctx context.Context) (action.Response, error) {
		return s.local.Invoke(ctx, id, in)
	})
	resp, err := call.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return s.codec.Encode(resp)
}

func successReply(payload []byte) []byte {
	data, err := wire.Success(payload).Marshal()
	if err != nil {
		return failureReply(err.Error())
	}
	return data
}

func failureReply(description string) []byte {
	data, err := wire.Failure(description).Marshal()
	if errors.Is(err, wire.ErrTooLarge) {
		data, _ = wire.Failure("reply too large").Marshal()
	}
	return data
}
