package concurrent

import (
	"context"
	"sync"

	"github.com/corewell/phprt/pkg/rterror"
	"github.com/corewell/phprt/pkg/value"
)

// Channel is a bounded buffered FIFO of Values (spec §4.6). Send/receive
// waiters are served in arrival order; Go's own channel runtime already
// gives blocked goroutines FIFO wake order, so a native `chan` of
// capacity C is the buffer itself rather than a hand-rolled waiter
// queue — the spec's ordering contract ("Waiters are FIFO-ordered")
// falls directly out of that runtime guarantee instead of needing to be
// re-implemented.
//
// Ownership: Send retains v, handing the channel its own reference
// (mirrors heap.Array's ArraySet/ArrayPush — "the container write
// retains its own copy, the caller keeps and must still release
// theirs"). Receive returns the channel's retained reference directly
// without an extra retain, transferring ownership to the caller — this
// generalizes spec §5's "channels perform the retain on the receiver
// side" to the single-Manager case this runtime implements (coroutines
// within one VM share one memory.Manager per the "Global mutable state"
// design note; cross-VM channel transfer is out of scope).
type Channel struct {
	buf    chan value.Value
	mgr    value.Allocator
	mu     sync.Mutex
	closed bool
}

// NewChannel returns a Channel with the given buffer capacity (0 means
// unbuffered: send blocks until a receiver is ready to hand off,
// exactly as Go's own unbuffered channels behave).
func NewChannel(mgr value.Allocator, capacity int) *Channel {
	return &Channel{buf: make(chan value.Value, capacity), mgr: mgr}
}

// Send enqueues v, retaining it for the channel's own ownership, and
// blocks if the buffer is full and no receiver is ready. It returns a
// CancelledOperation error if ctx is done first (spec §5 cancellation).
func (c *Channel) Send(ctx context.Context, v value.Value) error {
	v.Retain(c.mgr)
	select {
	case c.buf <- v:
		return nil
	case <-ctx.Done():
		v.Release(c.mgr)
		return rterror.CancelledOperation("", 0)
	}
}

// Receive dequeues the next Value in FIFO order, blocking if the buffer
// is empty. Ownership of the returned Value transfers to the caller.
func (c *Channel) Receive(ctx context.Context) (value.Value, error) {
	select {
	case v, ok := <-c.buf:
		if !ok {
			return value.Null, rterror.CancelledOperation("", 0)
		}
		return v, nil
	case <-ctx.Done():
		return value.Null, rterror.CancelledOperation("", 0)
	}
}

// Close marks the channel closed: pending and future receives drain the
// buffer, then observe a cancellation error instead of blocking forever
// (there is no PHP-visible "channel closed" value distinct from an
// error in this runtime, since the spec does not define one).
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.buf)
}
