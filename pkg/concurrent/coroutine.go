// Package concurrent implements the cooperative concurrency substrate
// of spec §4.6/§5: a scheduler of suspendable coroutines, a bounded
// FIFO channel primitive, and the Mutex/RWLock/Atomic/SharedData
// builtin classes. No pack repo has a cooperative user-level scheduler
// to ground this against directly (DESIGN.md), so the shape is built
// from spec prose directly; Go's own goroutine+channel substrate
// already IS a cooperative scheduler at the suspension points the spec
// names (channel send/receive, explicit yield), so coroutines are
// modelled as goroutines and suspension as a blocking channel
// operation — the "single run loop" framing of §5 is satisfied because
// every primitive's actual blocking happens on a channel or an OS lock
// (Mutex/RWLock), never inside an evaluator step.
package concurrent

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/timandy/routine"
)

// coroutineIdentity is the per-goroutine thread-local slot the
// scheduler installs so a blocking primitive deep in a native-function
// call can find "its own" Coroutine without a context parameter
// threaded through every frame (spec §4.6's GLS rationale). Grounded on
// github.com/timandy/routine's goroutine-local storage, adopted from
// yaninyzwitty-hyperpb-go's direct dependency on the same library
// (internal/debug/debug.go's routine.Goid() call).
var coroutineIdentity = routine.NewThreadLocal()

// Coroutine is a suspendable unit of evaluation scheduled cooperatively
// (spec Glossary). It runs on its own goroutine; "suspension" is
// whichever channel/lock operation it is currently blocked on.
type Coroutine struct {
	ID   int64
	ctx  context.Context
	cancel context.CancelCauseFunc
	done chan signal
	err  error

	cancelled atomic.Bool
}

// signal is an unexported, zero-size element type for done
// channels used purely as a close signal.
type signal struct{}

// Current returns the Coroutine bound to the calling goroutine, or nil
// if the goroutine was not spawned through a Scheduler (e.g. the
// top-level request goroutine before any coroutine is spawned).
func Current() *Coroutine {
	v := coroutineIdentity.Get()
	if v == nil {
		return nil
	}
	return v.(*Coroutine)
}

// Context returns the coroutine's cancellation context, for blocking
// primitives (Channel, Mutex) to select against.
func (c *Coroutine) Context() context.Context { return c.ctx }

// Cancel marks the coroutine cancelled with cause and wakes any
// primitive currently blocked on c.ctx.Done() (spec §5 "each coroutine
// has a cancel flag... cancelling a blocked channel waiter wakes it
// with a cancellation error").
func (c *Coroutine) Cancel(cause error) {
	c.cancelled.Store(true)
	c.cancel(cause)
}

// Cancelled reports whether Cancel has been called. Blocking primitives
// observe cancellation through Context().Done(), not through this flag.
func (c *Coroutine) Cancelled() bool { return c.cancelled.Load() }

// Wait blocks until the coroutine's function has returned, yielding its
// error (nil on success).
func (c *Coroutine) Wait() error {
	<-c.done
	return c.err
}

// Scheduler owns the set of live coroutines spawned from one VM (spec's
// "Global mutable state" design note: the VM, and by extension its
// scheduler, is the unit of global state — multiple VMs/schedulers may
// coexist without sharing anything).
type Scheduler struct {
	mu      sync.Mutex
	nextID  int64
	running map[int64]*Coroutine
}

// NewScheduler returns an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{running: make(map[int64]*Coroutine)}
}

// Go spawns fn on a new goroutine as a Coroutine, installing its
// thread-local identity before fn runs and removing it from the
// scheduler's live set when fn returns (spec §4.6 "Coroutine control
// flow... an explicit state machine around channel/IO points").
func (s *Scheduler) Go(parent context.Context, fn func(ctx context.Context) error) *Coroutine {
	ctx, cancel := context.WithCancelCause(parent)
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	co := &Coroutine{ID: id, ctx: ctx, cancel: cancel, done: make(chan signal)}

	s.mu.Lock()
	s.running[id] = co
	s.mu.Unlock()

	go func() {
		coroutineIdentity.Set(co)
		defer func() {
			s.mu.Lock()
			delete(s.running, id)
			s.mu.Unlock()
			close(co.done)
		}()
		co.err = fn(ctx)
	}()
	return co
}

// Count returns the number of coroutines currently running, for
// diagnostics and tests.
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}
