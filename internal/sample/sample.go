// Package sample provides the hello-world action used by the daemon and by
// tests across the dispatch packages.
package sample

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oriys/pulsar/internal/action"
)

// ActionName identifies the hello-world action.
const ActionName action.Identifier = "helloworld/sample"

// ErrBlankName is returned by SampleRequest.Validate for an empty name.
var ErrBlankName = errors.New("The request name is blank.")

// SampleAction is the hello-world contract.
var SampleAction = action.Type{
	Name:        ActionName,
	NewResponse: func() action.Response { return &SampleResponse{} },
}

// SampleRequest asks for a greeting.
type SampleRequest struct {
	Name string
}

// NewSampleRequest returns an empty request, used by peers to decode inbound
// payloads.
func NewSampleRequest() action.Request { return &SampleRequest{} }

func (r *SampleRequest) Schema() string { return "helloworld.SampleRequest" }

func (r *SampleRequest) Fields() map[string]any {
	return map[string]any{"name": r.Name}
}

func (r *SampleRequest) Load(fields map[string]any) error {
	name, err := stringField(fields, "name")
	if err != nil {
		return err
	}
	r.Name = name
	return nil
}

func (r *SampleRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrBlankName
	}
	return nil
}

// SampleResponse carries the greeting.
type SampleResponse struct {
	Greeting string
}

func (r *SampleResponse) Schema() string { return "helloworld.SampleResponse" }

func (r *SampleResponse) Fields() map[string]any {
	return map[string]any{"greeting": r.Greeting}
}

func (r *SampleResponse) Load(fields map[string]any) error {
	greeting, err := stringField(fields, "greeting")
	if err != nil {
		return err
	}
	r.Greeting = greeting
	return nil
}

// Greet is the hello-world handler.
func Greet(_ context.Context, req *SampleRequest) (*SampleResponse, error) {
	return &SampleResponse{Greeting: "Hello, " + req.Name}, nil
}

// Handler returns Greet as an action.Handler.
func Handler() action.Handler {
	return action.Typed(Greet)
}

// Register binds the hello-world handler in reg.
func Register(reg *action.Registry) error {
	return reg.Register(SampleAction, Handler())
}

// RegisterRemote declares the hello-world contract as served by a peer.
func RegisterRemote(reg *action.Registry) error {
	return reg.RegisterRemote(SampleAction)
}

// HandlerRegistrar accepts peer-served handlers. cluster.Server implements it.
type HandlerRegistrar interface {
	RegisterHandler(typ action.Type, newRequest func() action.Request, h action.Handler) error
}

// Serve registers the hello-world handler on a peer server.
func Serve(r HandlerRegistrar) error {
	return r.RegisterHandler(SampleAction, NewSampleRequest, Handler())
}

func stringField(fields map[string]any, key string) (string, error) {
	v, ok := fields[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q: expected string, got %T", key, v)
	}
	return s, nil
}
