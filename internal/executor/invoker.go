package executor

import (
	"context"

	"github.com/oriys/pulsar/internal/action"
)

// Invoker abstracts action invocation so that callers (dispatch client, peer
// server, scheduler) can run an action either in-process or on a peer
// without knowing which.
type Invoker interface {
	Invoke(ctx context.Context, id action.Identifier, req action.Request) (action.Response, error)
}
