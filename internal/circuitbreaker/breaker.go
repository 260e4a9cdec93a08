// Package circuitbreaker keeps one breaker per peer address so that a peer
// which keeps failing at the transport level is skipped for a while instead
// of being dialed on every call.
//
// Each breaker moves through three states:
//
//	Closed ──(failure rate ≥ ErrorPct)──► Open ──(OpenDuration elapsed)──► HalfOpen
//	  ▲                                                                      │
//	  └───────────────(HalfOpenTrials successes)──────────────────────────────┘
//	                   (any trial fails) ──────────────────────────────► Open
//
// The failure rate is computed over a sliding window of WindowDuration and
// only once MinRequests outcomes are in the window.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when a breaker rejects a call.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls are rejected
	StateHalfOpen              // a limited number of trials pass through
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds the breaker thresholds. A zero ErrorPct, WindowDuration or
// OpenDuration disables breaking.
type Config struct {
	ErrorPct       float64       // failure percentage that trips the breaker (0-100)
	MinRequests    int           // outcomes needed in the window before tripping
	WindowDuration time.Duration // sliding window for the failure rate
	OpenDuration   time.Duration // time spent open before probing
	HalfOpenTrials int           // trials allowed while half-open
}

// Enabled reports whether cfg describes an active breaker.
func (c Config) Enabled() bool {
	return c.ErrorPct > 0 && c.WindowDuration > 0 && c.OpenDuration > 0
}

type outcome struct {
	at     time.Time
	failed bool
}

// Breaker tracks the outcomes of calls to one peer.
type Breaker struct {
	mu       sync.Mutex
	cfg      Config
	state    State
	window   []outcome
	openedAt time.Time
	trials   int // trials let through since entering half-open
	trialsOK int

	now func() time.Time
}

// maxWindow caps the outcomes kept per breaker.
const maxWindow = 10000

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.HalfOpenTrials <= 0 {
		cfg.HalfOpenTrials = 1
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a call may proceed. Every allowed call must be
// followed by RecordSuccess or RecordFailure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance()
	switch b.state {
	case StateOpen:
		return false
	case StateHalfOpen:
		if b.trials >= b.cfg.HalfOpenTrials {
			return false
		}
		b.trials++
	}
	return true
}

// RecordSuccess records a call that reached the peer.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.record(false)
	case StateHalfOpen:
		b.trialsOK++
		if b.trialsOK >= b.cfg.HalfOpenTrials {
			b.state = StateClosed
			b.window = b.window[:0]
		}
	}
}

// RecordFailure records a call that could not reach the peer.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.record(true)
		if b.tripped() {
			b.trip()
		}
	case StateHalfOpen:
		b.trip()
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// advance moves an open breaker to half-open once OpenDuration has passed.
// Must be called under lock.
func (b *Breaker) advance() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.OpenDuration {
		b.state = StateHalfOpen
		b.trials = 0
		b.trialsOK = 0
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
}

func (b *Breaker) record(failed bool) {
	now := b.now()
	b.window = append(b.window, outcome{at: now, failed: failed})

	cutoff := now.Add(-b.cfg.WindowDuration)
	i := 0
	for i < len(b.window) && b.window[i].at.Before(cutoff) {
		i++
	}
	if over := len(b.window) - i - maxWindow; over > 0 {
		i += over
	}
	if i > 0 {
		b.window = append(b.window[:0], b.window[i:]...)
	}
}

func (b *Breaker) tripped() bool {
	if len(b.window) == 0 || len(b.window) < b.cfg.MinRequests {
		return false
	}
	failures := 0
	for _, o := range b.window {
		if o.failed {
			failures++
		}
	}
	return float64(failures)/float64(len(b.window))*100 >= b.cfg.ErrorPct
}

// Registry holds one breaker per peer address.
type Registry struct {
	cfg Config

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry whose breakers share cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for peer, creating it on first use. It returns
// nil when breaking is disabled.
func (r *Registry) Get(peer string) *Breaker {
	if !r.cfg.Enabled() {
		return nil
	}

	r.mu.RLock()
	b, ok := r.breakers[peer]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[peer]; ok {
		return b
	}
	b = New(r.cfg)
	r.breakers[peer] = b
	return b
}

// Remove forgets the breaker for peer.
func (r *Registry) Remove(peer string) {
	r.mu.Lock()
	delete(r.breakers, peer)
	r.mu.Unlock()
}

// Snapshot returns the state of every known breaker by peer.
func (r *Registry) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.breakers))
	for peer, b := range r.breakers {
		out[peer] = b.State().String()
	}
	return out
}
