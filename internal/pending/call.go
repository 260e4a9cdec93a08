// Package pending implements the single-shot completion slot behind every
// dispatched action.
//
// A Call settles exactly once, with a value, an error or a timeout. Whichever
// of the work and the deadline gets there first wins the compare-and-swap;
// the loser is dropped. Callers either block on Wait or register an OnSettle
// callback, and each observes exactly one outcome.
package pending

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oriys/pulsar/internal/action"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/metrics"
)

// Call is one in-flight invocation producing a T.
type Call[T any] struct {
	id     string
	action action.Identifier
	start  time.Time

	settled  atomic.Bool
	timedOut atomic.Bool
	done     chan struct{}
	value    T
	err      error

	mu        sync.Mutex
	fired     bool
	callbacks []func(T, error)

	timer  *time.Timer
	cancel context.CancelFunc
}

// New returns an unsettled call for id that times out after timeout.
// A timeout <= 0 disables the deadline.
func New[T any](id action.Identifier, timeout time.Duration) *Call[T] {
	c := newCall[T](id)
	c.arm(timeout)
	return c
}

func newCall[T any](id action.Identifier) *Call[T] {
	return &Call[T]{
		id:     shortID(),
		action: id,
		start:  time.Now(),
		done:   make(chan struct{}),
	}
}

func (c *Call[T]) arm(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timer = time.AfterFunc(timeout, func() {
		var zero T
		if c.settle(zero, action.TimeoutError(c.action, timeout), true) {
			metrics.Global().RecordTimeout(string(c.action))
		}
	})
}

// ID returns the short call identifier used in logs.
func (c *Call[T]) ID() string { return c.id }

// Action returns the identifier of the action this call is for.
func (c *Call[T]) Action() action.Identifier { return c.action }

// Elapsed returns the time since the call was created.
func (c *Call[T]) Elapsed() time.Duration { return time.Since(c.start) }

// Settle completes the call. It reports true only for the caller that
// actually settled it; every later attempt is a no-op returning false.
func (c *Call[T]) Settle(v T, err error) bool {
	return c.settle(v, err, false)
}

func (c *Call[T]) settle(v T, err error, timeout bool) bool {
	if !c.settled.CompareAndSwap(false, true) {
		return false
	}
	c.value, c.err = v, err
	c.timedOut.Store(timeout)

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	cancel := c.cancel
	c.fired = true
	callbacks := c.callbacks
	c.callbacks = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	close(c.done)
	for _, fn := range callbacks {
		fn(v, err)
	}
	return true
}

// Done is closed once the call has settled.
func (c *Call[T]) Done() <-chan struct{} { return c.done }

// Settled reports whether the call has an outcome.
func (c *Call[T]) Settled() bool { return c.settled.Load() }

// TimedOut reports whether the deadline settled the call.
func (c *Call[T]) TimedOut() bool {
	select {
	case <-c.done:
		return c.timedOut.Load()
	default:
		return false
	}
}

// Wait blocks until the call settles or ctx is done. A done ctx abandons the
// wait without settling the call.
func (c *Call[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.value, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Outcome is the terminal state of a settled call.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Result returns the outcome without blocking. ok is false while the call is
// still pending.
func (c *Call[T]) Result() (Outcome[T], bool) {
	select {
	case <-c.done:
		return Outcome[T]{Value: c.value, Err: c.err}, true
	default:
		return Outcome[T]{}, false
	}
}

// OnSettle registers fn to run once with the outcome. If the call has
// already settled fn runs immediately on the calling goroutine; otherwise it
// runs on the goroutine that settles the call.
func (c *Call[T]) OnSettle(fn func(T, error)) {
	c.mu.Lock()
	if !c.fired {
		c.callbacks = append(c.callbacks, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	<-c.done
	fn(c.value, c.err)
}

// Run starts work on its own goroutine and returns its call. The work
// context keeps the values of ctx but not its cancellation; it is cancelled
// once the call settles, including by timeout. A result produced after
// settlement is dropped and counted as a late completion.
func Run[T any](ctx context.Context, id action.Identifier, timeout time.Duration, work func(ctx context.Context) (T, error)) *Call[T] {
	c := newCall[T](id)

	// The work context has no deadline of its own so the timer is always the
	// one to report a timeout.
	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	workCtx = context.WithValue(workCtx, callIDKey{}, c.id)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	c.arm(timeout)

	go func() {
		var (
			v   T
			err error
		)
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("action [%s] panicked: %v", id, r)
				}
			}()
			v, err = work(workCtx)
		}()

		if !c.Settle(v, err) {
			metrics.Global().RecordLateCompletion(string(id))
			logging.Op().Debug("dropped late completion",
				"call_id", c.id,
				"action", string(id),
				"elapsed", c.Elapsed(),
				"error", err,
			)
		}
	}()
	return c
}

type callIDKey struct{}

// IDFromContext returns the ID of the call whose work runs with ctx.
func IDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey{}).(string)
	return id
}

func shortID() string {
	id := uuid.New()
	return id.String()[:8]
}
