package action

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

type echoMessage struct {
	Text string
}

func (m *echoMessage) Schema() string         { return "test.Echo" }
func (m *echoMessage) Fields() map[string]any { return map[string]any{"text": m.Text} }
func (m *echoMessage) Validate() error        { return nil }
func (m *echoMessage) Load(fields map[string]any) error {
	text, _ := fields["text"].(string)
	m.Text = text
	return nil
}

type otherMessage struct{}

func (m *otherMessage) Schema() string            { return "test.Other" }
func (m *otherMessage) Fields() map[string]any    { return map[string]any{} }
func (m *otherMessage) Load(map[string]any) error { return nil }
func (m *otherMessage) Validate() error           { return nil }

var echoType = Type{
	Name:        "test/echo",
	NewResponse: func() Response { return &echoMessage{} },
}

func echoHandler() Handler {
	return Typed(func(_ context.Context, req *echoMessage) (*echoMessage, error) {
		return &echoMessage{Text: req.Text}, nil
	})
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	h := echoHandler()
	if err := r.Register(echoType, h); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, ok := r.Handler(echoType.Name)
	if !ok {
		t.Fatal("expected handler to be found")
	}
	resp, err := got.Handle(context.Background(), &echoMessage{Text: "hi"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.(*echoMessage).Text != "hi" {
		t.Fatalf("unexpected response %+v", resp)
	}

	entry, ok := r.Lookup(echoType.Name)
	if !ok || entry.Remote() {
		t.Fatalf("expected local entry, got %+v ok=%v", entry, ok)
	}
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoType, echoHandler()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	err := r.Register(echoType, echoHandler())
	if !IsKind(err, KindDuplicateAction) {
		t.Fatalf("expected duplicate action error, got %v", err)
	}
	if err := r.RegisterRemote(echoType); !IsKind(err, KindDuplicateAction) {
		t.Fatalf("expected duplicate action error for remote marker, got %v", err)
	}
}

func TestRegistry_MustRegisterPanicsOnDuplicate(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(echoType, echoHandler())

	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic")
		}
		err, ok := rec.(error)
		if !ok || !IsKind(err, KindDuplicateAction) {
			t.Fatalf("expected duplicate action panic, got %v", rec)
		}
	}()
	r.MustRegister(echoType, echoHandler())
}

func TestRegistry_RemoteMarker(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterRemote(echoType); err != nil {
		t.Fatalf("RegisterRemote: %v", err)
	}

	entry, ok := r.Lookup(echoType.Name)
	if !ok || !entry.Remote() {
		t.Fatalf("expected remote entry, got %+v ok=%v", entry, ok)
	}
	if _, ok := r.Handler(echoType.Name); ok {
		t.Fatal("remote marker must not expose a local handler")
	}
}

func TestRegistry_SealRejectsWrites(t *testing.T) {
	r := NewRegistry()
	r.Seal()
	if !r.Sealed() {
		t.Fatal("expected sealed registry")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when registering after Seal")
		}
	}()
	_ = r.Register(echoType, echoHandler())
}

func TestRegistry_InvalidEntries(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Type{NewResponse: echoType.NewResponse}, echoHandler()); err == nil {
		t.Fatal("expected error for empty identifier")
	}
	if err := r.Register(Type{Name: "x"}, echoHandler()); err == nil {
		t.Fatal("expected error for missing response factory")
	}
	if err := r.Register(echoType, nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d entries", r.Len())
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []Identifier{"c/three", "a/one", "b/two"} {
		r.MustRegisterRemote(Type{Name: name, NewResponse: echoType.NewResponse})
	}
	got := r.Names()
	want := []Identifier{"a/one", "b/two", "c/three"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRegistry_ConcurrentLookupAfterSeal(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 32; i++ {
		r.MustRegister(Type{Name: Identifier(fmt.Sprintf("test/%d", i)), NewResponse: echoType.NewResponse}, echoHandler())
	}
	r.Seal()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				if _, ok := r.Handler(Identifier(fmt.Sprintf("test/%d", i%32))); !ok {
					t.Errorf("missing handler test/%d", i%32)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestTyped_RejectsForeignRequest(t *testing.T) {
	_, err := echoHandler().Handle(context.Background(), &otherMessage{})
	if !IsKind(err, KindSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}

func TestError_Messages(t *testing.T) {
	err := UnknownActionError("helloworld/unregistered")
	if err.Error() != "failed to find action [helloworld/unregistered] to execute" {
		t.Fatalf("unexpected message %q", err.Error())
	}

	inv := InvalidArgumentError("x", errors.New("The request name is blank."))
	if inv.Error() != "The request name is blank." {
		t.Fatalf("unexpected message %q", inv.Error())
	}

	wrapped := fmt.Errorf("dispatch: %w", TimeoutError("x", 0))
	if !errors.Is(wrapped, &Error{Kind: KindTimeout}) {
		t.Fatal("errors.Is should match by kind")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatal("plain errors should have unknown kind")
	}
	if KindTimeout.GRPCCode().String() != "DeadlineExceeded" {
		t.Fatalf("unexpected gRPC code %s", KindTimeout.GRPCCode())
	}
}
