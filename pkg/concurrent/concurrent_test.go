package concurrent

import (
	"context"
	"testing"
	"time"

	"github.com/corewell/phprt/pkg/memory"
	"github.com/corewell/phprt/pkg/value"
)

// TestChannelHandoff exercises spec §8 scenario 5: two coroutines on an
// unbuffered channel, sender sends 1,2,3 in order, receiver collects
// [1,2,3].
func TestChannelHandoff(t *testing.T) {
	mgr := memory.NewManager(nil)
	ch := NewChannel(mgr, 0)
	sched := NewScheduler()

	got := make([]int32, 0, 3)
	recvDone := make(chan struct{})

	sched.Go(context.Background(), func(ctx context.Context) error {
		defer close(recvDone)
		for i := 0; i < 3; i++ {
			v, err := ch.Receive(ctx)
			if err != nil {
				return err
			}
			got = append(got, v.AsInt())
		}
		return nil
	})

	sender := sched.Go(context.Background(), func(ctx context.Context) error {
		for _, n := range []int64{1, 2, 3} {
			if err := ch.Send(ctx, value.OfInt(int32(n))); err != nil {
				return err
			}
		}
		return nil
	})

	if err := sender.Wait(); err != nil {
		t.Fatalf("sender: %v", err)
	}
	select {
	case <-recvDone:
	case <-time.After(2 * time.Second):
		t.Fatal("receiver never completed")
	}

	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("got %v, want [1 2 3]", got)
	}
}

func TestChannelCancel(t *testing.T) {
	mgr := memory.NewManager(nil)
	ch := NewChannel(mgr, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := ch.Receive(ctx); err == nil {
		t.Fatal("expected cancellation error on a done context")
	}
}

func TestMutexExcludes(t *testing.T) {
	m := NewMutex()
	m.Lock()
	if m.TryLock() {
		t.Fatal("TryLock succeeded while already held")
	}
	m.Unlock()
	if !m.TryLock() {
		t.Fatal("TryLock failed on an unheld mutex")
	}
}

func TestAtomicCompareExchange(t *testing.T) {
	a := NewAtomic(value.OfInt(1))
	if a.Load().AsInt() != 1 {
		t.Fatalf("Load = %v, want 1", a.Load().AsInt())
	}
	if !a.CompareExchange(value.OfInt(1), value.OfInt(2)) {
		t.Fatal("CompareExchange(1, 2) should have succeeded")
	}
	if a.Load().AsInt() != 2 {
		t.Fatalf("Load after swap = %v, want 2", a.Load().AsInt())
	}
	if a.CompareExchange(value.OfInt(1), value.OfInt(3)) {
		t.Fatal("CompareExchange(1, 3) should have failed — current value is 2")
	}
}

func TestSharedDataReadWrite(t *testing.T) {
	mgr := memory.NewManager(nil)
	sd := NewSharedData(mgr, value.OfInt(10))
	defer sd.Release()

	var seen int32
	sd.Read(func(v value.Value) { seen = v.AsInt() })
	if seen != 10 {
		t.Fatalf("Read = %d, want 10", seen)
	}

	sd.Write(value.OfInt(20))
	sd.Read(func(v value.Value) { seen = v.AsInt() })
	if seen != 20 {
		t.Fatalf("Read after Write = %d, want 20", seen)
	}
}

// TestWaitAllPropagatesFirstError spawns several coroutines, one of
// which fails, and checks WaitAll returns an error without hanging —
// the bounded-fan-out/first-error-propagation contract SPEC_FULL.md
// §4.7 asks of the errgroup+semaphore helper.
func TestWaitAllPropagatesFirstError(t *testing.T) {
	sched := NewScheduler()
	cos := make([]*Coroutine, 0, 5)
	for i := 0; i < 4; i++ {
		cos = append(cos, sched.Go(context.Background(), func(ctx context.Context) error {
			return nil
		}))
	}
	cos = append(cos, sched.Go(context.Background(), func(ctx context.Context) error {
		return context.DeadlineExceeded
	}))

	if err := WaitAll(context.Background(), cos); err == nil {
		t.Fatal("expected WaitAll to propagate the failing coroutine's error")
	}
}

func TestWaitAllSucceedsWhenAllSucceed(t *testing.T) {
	sched := NewScheduler()
	cos := make([]*Coroutine, 0, 8)
	for i := 0; i < 8; i++ {
		cos = append(cos, sched.Go(context.Background(), func(ctx context.Context) error {
			return nil
		}))
	}
	if err := WaitAll(context.Background(), cos); err != nil {
		t.Fatalf("WaitAll: %v", err)
	}
}

func TestCoroutineCancelPropagates(t *testing.T) {
	sched := NewScheduler()
	started := make(chan struct{})
	co := sched.Go(context.Background(), func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return context.Cause(ctx)
	})
	<-started
	co.Cancel(nil)
	if err := co.Wait(); err == nil {
		t.Fatal("expected cancellation to unblock the coroutine with an error")
	}
	if !co.Cancelled() {
		t.Fatal("Cancelled() should report true after Cancel")
	}
}
