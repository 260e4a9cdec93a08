package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/oriys/pulsar/internal/action"
)

// Call is ExecuteBlocking with the response asserted to Resp. A response of
// another type fails with a schema mismatch.
func Call[Resp action.Response](ctx context.Context, c *Client, id action.Identifier, req action.Request, timeout time.Duration, opts ...CallOption) (Resp, error) {
	resp, err := c.ExecuteBlocking(ctx, id, req, timeout, opts...)
	if err != nil {
		var zero Resp
		return zero, err
	}
	return assertResponse[Resp](resp)
}

// Go is Execute with the response asserted to Resp.
func Go[Resp action.Response](ctx context.Context, c *Client, id action.Identifier, req action.Request, cb func(Resp, error), opts ...CallOption) error {
	if cb == nil {
		return c.Execute(ctx, id, req, nil, opts...)
	}
	return c.Execute(ctx, id, req, func(resp action.Response, err error) {
		if err != nil {
			var zero Resp
			cb(zero, err)
			return
		}
		cb(assertResponse[Resp](resp))
	}, opts...)
}

func assertResponse[Resp action.Response](resp action.Response) (Resp, error) {
	typed, ok := resp.(Resp)
	if !ok {
		var zero Resp
		return zero, action.SchemaMismatchError(fmt.Sprintf("%T", zero), resp.Schema())
	}
	return typed, nil
}
