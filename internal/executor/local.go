package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/oriys/pulsar/internal/action"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/observability"
)

var (
	// ErrHandlerPanic wraps a panic recovered from a handler.
	ErrHandlerPanic = errors.New("action handler panicked")
	// ErrNilResponse is returned when a handler reports success without a
	// response.
	ErrNilResponse = errors.New("action handler returned no response")
	errNilRequest  = errors.New("request is nil")
)

// Invoke validates req and runs h with it. A validation failure is returned
// as an invalid-argument error carrying the validation message, and h is not
// called. Errors returned by h pass through unchanged.
func Invoke(ctx context.Context, id action.Identifier, h action.Handler, req action.Request) (resp action.Response, err error) {
	if req == nil {
		return nil, action.InvalidArgumentError(id, errNilRequest)
	}
	if verr := req.Validate(); verr != nil {
		return nil, action.InvalidArgumentError(id, verr)
	}

	defer func() {
		if r := recover(); r != nil {
			logging.OpFromContext(ctx).Error("recovered panic in action handler",
				"action", string(id),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			resp, err = nil, fmt.Errorf("%w: action [%s]: %v", ErrHandlerPanic, id, r)
		}
	}()

	resp, err = h.Handle(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: action [%s]", ErrNilResponse, id)
	}
	return resp, nil
}

// Local runs actions whose handlers are registered in-process.
type Local struct {
	registry *action.Registry
	logger   *logging.Logger
	route    string
}

var _ Invoker = (*Local)(nil)

// NewLocal creates a local executor bound to reg.
func NewLocal(reg *action.Registry, opts ...Option) *Local {
	l := &Local{registry: reg, route: "local"}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Registry returns the registry the executor resolves handlers from.
func (l *Local) Registry() *action.Registry {
	return l.registry
}

// Invoke looks up the local handler for id and runs it. Remote markers are
// not executable here and report an unknown action.
func (l *Local) Invoke(ctx context.Context, id action.Identifier, req action.Request) (action.Response, error) {
	h, ok := l.registry.Handler(id)
	if !ok {
		return nil, action.UnknownActionError(id)
	}

	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "action.execute",
		observability.AttrAction.String(string(id)),
		observability.AttrRoute.String(l.route),
	)
	resp, err := Invoke(ctx, id, h, req)
	if kind := action.KindOf(err); err != nil && kind != action.KindUnknown {
		span.SetAttributes(observability.AttrErrorKind.String(string(kind)))
	}
	observability.EndSpan(span, err)

	if l.logger != nil {
		entry := &logging.CallLog{
			CallID:     callIDFromContext(ctx),
			TraceID:    observability.TraceID(ctx),
			SpanID:     observability.SpanID(ctx),
			Action:     string(id),
			Route:      l.route,
			DurationMs: time.Since(start).Milliseconds(),
			Success:    err == nil,
		}
		if err != nil {
			entry.Kind = string(action.KindOf(err))
			entry.Error = err.Error()
		}
		l.logger.Log(entry)
	}
	return resp, err
}
