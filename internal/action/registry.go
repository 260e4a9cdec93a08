package action

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Entry binds an action contract to its local handler. A nil Handler marks
// an action whose handler lives on a remote peer.
type Entry struct {
	Type    Type
	Handler Handler
}

// Remote reports whether the entry is a remote marker.
func (e Entry) Remote() bool { return e.Handler == nil }

// Registry maps action identifiers to entries.
//
// Registration happens during startup only. Every write publishes a new
// immutable snapshot, so lookups never take a lock. After Seal any further
// registration is a programming error and panics.
type Registry struct {
	mu      sync.Mutex // serializes writers
	entries atomic.Pointer[map[Identifier]Entry]
	sealed  atomic.Bool
}

// NewRegistry returns an empty, unsealed registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := map[Identifier]Entry{}
	r.entries.Store(&empty)
	return r
}

// Register binds a local handler to typ. Registering an identifier twice
// returns a duplicate-action error.
func (r *Registry) Register(typ Type, h Handler) error {
	if h == nil {
		return fmt.Errorf("register action [%s]: nil handler", typ.Name)
	}
	return r.add(Entry{Type: typ, Handler: h})
}

// RegisterRemote declares typ as executable on a remote peer.
func (r *Registry) RegisterRemote(typ Type) error {
	return r.add(Entry{Type: typ})
}

// MustRegister is Register for bootstrap code, where a duplicate is fatal.
func (r *Registry) MustRegister(typ Type, h Handler) {
	if err := r.Register(typ, h); err != nil {
		panic(err)
	}
}

// MustRegisterRemote is RegisterRemote for bootstrap code.
func (r *Registry) MustRegisterRemote(typ Type) {
	if err := r.RegisterRemote(typ); err != nil {
		panic(err)
	}
}

func (r *Registry) add(e Entry) error {
	if e.Type.Name == "" {
		return fmt.Errorf("register action: empty identifier")
	}
	if e.Type.NewResponse == nil {
		return fmt.Errorf("register action [%s]: nil response factory", e.Type.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		panic(fmt.Sprintf("action registry is sealed: cannot register [%s]", e.Type.Name))
	}

	current := *r.entries.Load()
	if _, exists := current[e.Type.Name]; exists {
		return DuplicateActionError(e.Type.Name)
	}

	next := make(map[Identifier]Entry, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[e.Type.Name] = e
	r.entries.Store(&next)
	return nil
}

// Seal ends the registration phase. It is idempotent.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed.Store(true)
	r.mu.Unlock()
}

// Sealed reports whether registration has completed.
func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

// Lookup returns the entry registered under id.
func (r *Registry) Lookup(id Identifier) (Entry, bool) {
	e, ok := (*r.entries.Load())[id]
	return e, ok
}

// Handler returns the local handler registered under id. Remote markers
// report false.
func (r *Registry) Handler(id Identifier) (Handler, bool) {
	e, ok := r.Lookup(id)
	if !ok || e.Remote() {
		return nil, false
	}
	return e.Handler, true
}

// Names lists registered identifiers in sorted order.
func (r *Registry) Names() []Identifier {
	current := *r.entries.Load()
	names := make([]Identifier, 0, len(current))
	for id := range current {
		names = append(names, id)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	return len(*r.entries.Load())
}
