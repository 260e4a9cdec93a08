// Package action defines action contracts, their request/response messages
// and handlers, and the process-wide registry that maps an action identifier
// to the component able to execute it.
//
// Messages expose their fields as a plain map instead of relying on
// reflection so that codecs stay independent of Go struct layout and the
// registry never resolves types by name at runtime.
package action

import (
	"context"
	"fmt"
)

// Identifier names an action contract. It is the registry key and the only
// action field put on the wire, so it must stay stable across versions.
type Identifier string

func (id Identifier) String() string { return string(id) }

// Message is a value that can cross a codec boundary.
type Message interface {
	// Schema returns the stable type name of the message.
	Schema() string
	// Fields returns the message content as JSON-compatible values.
	Fields() map[string]any
	// Load replaces the message content from decoded fields.
	Load(fields map[string]any) error
}

// Request is the input of an action.
type Request interface {
	Message
	// Validate reports semantic problems with a well-formed request.
	Validate() error
}

// Response is the output of an action.
type Response interface {
	Message
}

// Type is an action contract: its identifier plus a factory for the
// response type callers should expect.
type Type struct {
	Name        Identifier
	NewResponse func() Response
}

func (t Type) String() string { return string(t.Name) }

// Handler executes one action.
type Handler interface {
	Handle(ctx context.Context, req Request) (Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req Request) (Response, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Typed adapts a strongly typed function to a Handler. A request of any other
// concrete type fails with a schema mismatch before fn runs.
func Typed[Req Request, Resp Response](fn func(ctx context.Context, req Req) (Resp, error)) Handler {
	return HandlerFunc(func(ctx context.Context, req Request) (Response, error) {
		typed, ok := req.(Req)
		if !ok {
			var want Req
			return nil, SchemaMismatchError(schemaOf(want), schemaOf(req))
		}
		return fn(ctx, typed)
	})
}

// schemaOf tolerates typed nil messages whose Schema dereferences the receiver.
func schemaOf(m Message) (schema string) {
	if m == nil {
		return "<nil>"
	}
	schema = fmt.Sprintf("%T", m)
	defer func() { _ = recover() }()
	if s := m.Schema(); s != "" {
		schema = s
	}
	return schema
}
