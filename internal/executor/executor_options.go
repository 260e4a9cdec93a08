package executor

import (
	"context"

	"github.com/oriys/pulsar/internal/logging"
)

type Option func(*Local)

// WithLogger records every invocation in the call log
func WithLogger(logger *logging.Logger) Option {
	return func(l *Local) {
		l.logger = logger
	}
}

// WithRoute sets the route label used in spans and call logs. A peer
// server executing on behalf of a remote caller uses "served".
func WithRoute(route string) Option {
	return func(l *Local) {
		if route != "" {
			l.route = route
		}
	}
}

type callIDKey struct{}

// WithCallID returns a context carrying the caller's call ID so that the
// executor's log entries can be correlated with the dispatch that caused
// them.
func WithCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callIDKey{}, id)
}

func callIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey{}).(string)
	return id
}

// SafeGo runs f in a new goroutine with panic recovery so that a failure
// in fire-and-forget background work never crashes the process.
func SafeGo(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Op().Error("recovered panic in async task", "panic", r)
			}
		}()
		f()
	}()
}
