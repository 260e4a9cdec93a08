package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/oriys/pulsar/internal/action"
)

var (
	// ErrPeerNotFound is returned when no peer serves an action.
	ErrPeerNotFound = errors.New("no peer serves action")
	// ErrActionConflict is returned when an action is announced by a peer
	// while bound to a different one.
	ErrActionConflict = errors.New("action is bound to another peer")
)

// Resolver finds the peer serving an action.
type Resolver interface {
	Resolve(ctx context.Context, id action.Identifier) (string, error)
}

// Announcer publishes the actions a peer serves. Announcing an existing
// binding again is a no-op; announcing an action bound to a different peer
// fails with ErrActionConflict and binds nothing.
type Announcer interface {
	Announce(ctx context.Context, peer string, ids ...action.Identifier) error
	Withdraw(ctx context.Context, peer string, ids ...action.Identifier) error
}

// Directory is a Resolver that peers can announce themselves to.
type Directory interface {
	Resolver
	Announcer
	Bindings(ctx context.Context) (map[action.Identifier]string, error)
}

// ConflictError details an ErrActionConflict.
type ConflictError struct {
	Action   action.Identifier
	Existing string
	Proposed string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("action [%s] is bound to peer %s, cannot bind to %s", e.Action, e.Existing, e.Proposed)
}

func (e *ConflictError) Unwrap() error { return ErrActionConflict }

func notFound(id action.Identifier) error {
	return fmt.Errorf("%w: [%s]", ErrPeerNotFound, id)
}

// StaticDirectory is an in-memory directory seeded from configuration.
// Actions without a binding resolve to the default peer when one is set.
type StaticDirectory struct {
	mu          sync.RWMutex
	bindings    map[action.Identifier]string
	defaultPeer string
}

var _ Directory = (*StaticDirectory)(nil)

// NewStaticDirectory creates a directory with the given bindings.
func NewStaticDirectory(defaultPeer string, bindings map[string]string) *StaticDirectory {
	d := &StaticDirectory{
		bindings:    make(map[action.Identifier]string, len(bindings)),
		defaultPeer: strings.TrimSpace(defaultPeer),
	}
	for id, peer := range bindings {
		d.bindings[action.Identifier(id)] = strings.TrimSpace(peer)
	}
	return d
}

// Resolve implements Resolver.
func (d *StaticDirectory) Resolve(_ context.Context, id action.Identifier) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if peer, ok := d.bindings[id]; ok {
		return peer, nil
	}
	if d.defaultPeer != "" {
		return d.defaultPeer, nil
	}
	return "", notFound(id)
}

// Announce implements Announcer.
func (d *StaticDirectory) Announce(_ context.Context, peer string, ids ...action.Identifier) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		if existing, ok := d.bindings[id]; ok && existing != peer {
			return &ConflictError{Action: id, Existing: existing, Proposed: peer}
		}
	}
	for _, id := range ids {
		d.bindings[id] = peer
	}
	return nil
}

// Withdraw implements Announcer. Bindings held by other peers are kept.
func (d *StaticDirectory) Withdraw(_ context.Context, peer string, ids ...action.Identifier) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		if d.bindings[id] == peer {
			delete(d.bindings, id)
		}
	}
	return nil
}

// Bindings implements Directory.
func (d *StaticDirectory) Bindings(_ context.Context) (map[action.Identifier]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[action.Identifier]string, len(d.bindings))
	for id, peer := range d.bindings {
		out[id] = peer
	}
	return out, nil
}

// ChainResolver asks each resolver in turn and returns the first peer found.
// Errors other than ErrPeerNotFound stop the chain.
type ChainResolver []Resolver

// Resolve implements Resolver.
func (c ChainResolver) Resolve(ctx context.Context, id action.Identifier) (string, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		peer, err := r.Resolve(ctx, id)
		if err == nil {
			return peer, nil
		}
		if !errors.Is(err, ErrPeerNotFound) {
			return "", err
		}
	}
	return "", notFound(id)
}

// SortedBindings renders bindings as "action=peer" lines in action order.
func SortedBindings(bindings map[action.Identifier]string) []string {
	out := make([]string, 0, len(bindings))
	for id, peer := range bindings {
		out = append(out, string(id)+"="+peer)
	}
	sort.Strings(out)
	return out
}
