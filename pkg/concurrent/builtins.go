package concurrent

import (
	"context"

	"github.com/corewell/phprt/pkg/heap"
	"github.com/corewell/phprt/pkg/rterror"
	"github.com/corewell/phprt/pkg/value"
	"github.com/corewell/phprt/pkg/vm"
)

// runtime bundles the one Scheduler and big evaluator lock shared by
// every concurrency primitive registered onto a single VM. The lock
// exists because coroutines are real goroutines (see coroutine.go's
// doc comment) but spec §5 assumes "a single scheduler owns all
// Values" — evaluator steps (anything that touches the VM's own
// refcounted heap through CallValue) are serialized through vmLock so
// that only genuine suspension points (Channel, Mutex, RWLock ops,
// which release the lock while blocked) run concurrently, matching
// "preemption never occurs inside evaluator steps".
type runtime struct {
	sched   *Scheduler
	vmLock  chan struct{} // 1-buffered: acts as a non-reentrant mutex releasable across a select
}

func newRuntime() *runtime {
	r := &runtime{sched: NewScheduler(), vmLock: make(chan struct{}, 1)}
	r.vmLock <- struct{}{}
	return r
}

func (r *runtime) lockVM(ctx context.Context) error {
	select {
	case <-r.vmLock:
		return nil
	case <-ctx.Done():
		return rterror.CancelledOperation("", 0)
	}
}

func (r *runtime) unlockVM() { r.vmLock <- struct{}{} }

const (
	resCoroutine  = "Coroutine"
	resChannel    = "Channel"
	resMutex      = "Mutex"
	resRWLock     = "RWLock"
	resAtomic     = "Atomic"
	resSharedData = "SharedData"
)

// Register installs the coroutine/channel/mutex/rwlock/atomic/
// shareddata builtins onto m, boxing each Go-side primitive as a
// heap.Resource (spec §3's "opaque external handle" box), exactly as
// pkg/stdlib.Register installs its own catalogue (same heap.NativeCall
// contract, same ctx.(*vm.VM) recovery idiom).
func Register(m *vm.VM) {
	rt := newRuntime()

	reg := func(name string, fn heap.NativeCall, min, max int) {
		m.RegisterNativeFunction(name, fn, min, max)
	}

	reg("coroutine_spawn", rt.biCoroutineSpawn, 1, 1)
	reg("coroutine_wait", rt.biCoroutineWait, 1, 1)
	reg("coroutine_wait_all", rt.biCoroutineWaitAll, 1, 1)
	reg("coroutine_cancel", rt.biCoroutineCancel, 1, 1)
	reg("coroutine_cancelled", rt.biCoroutineCancelled, 1, 1)

	reg("channel_new", rt.biChannelNew, 0, 1)
	reg("channel_send", rt.biChannelSend, 2, 2)
	reg("channel_receive", rt.biChannelReceive, 1, 1)
	reg("channel_close", rt.biChannelClose, 1, 1)

	reg("mutex_new", rt.biMutexNew, 0, 0)
	reg("mutex_lock", rt.biMutexLock, 1, 1)
	reg("mutex_unlock", rt.biMutexUnlock, 1, 1)
	reg("mutex_try_lock", rt.biMutexTryLock, 1, 1)

	reg("rwlock_new", rt.biRWLockNew, 0, 0)
	reg("rwlock_read", rt.biRWLockRead, 1, 1)
	reg("rwlock_write", rt.biRWLockWrite, 1, 1)
	reg("rwlock_unlock_read", rt.biRWLockUnlockRead, 1, 1)
	reg("rwlock_unlock_write", rt.biRWLockUnlockWrite, 1, 1)

	reg("atomic_new", rt.biAtomicNew, 1, 1)
	reg("atomic_load", rt.biAtomicLoad, 1, 1)
	reg("atomic_store", rt.biAtomicStore, 2, 2)
	reg("atomic_compare_exchange", rt.biAtomicCompareExchange, 3, 3)

	reg("shareddata_new", rt.biSharedDataNew, 1, 1)
	reg("shareddata_read", rt.biSharedDataRead, 1, 1)
	reg("shareddata_write", rt.biSharedDataWrite, 2, 2)
}

func asVM(ctx interface{}) *vm.VM { return ctx.(*vm.VM) }

// requireArrayArg mirrors pkg/stdlib's own requireArray, duplicated
// here for the same reason as toInt: avoiding a pkg/concurrent ->
// pkg/stdlib dependency edge.
func requireArrayArg(v value.Value, fn string) error {
	if !v.IsArray() {
		return rterror.TypeErrorf("", 0, "%s: argument must be of type array", fn)
	}
	return nil
}

func resourceHandle(v *vm.VM, arg value.Value, typeName, fn string) (*heap.Resource, error) {
	if !arg.IsResource() {
		return nil, rterror.TypeErrorf("", 0, "%s: expected %s resource", fn, typeName)
	}
	r := v.Mem.ResourceAt(arg.Handle())
	if r == nil || r.TypeName != typeName {
		return nil, rterror.TypeErrorf("", 0, "%s: expected %s resource", fn, typeName)
	}
	return r, nil
}

// biCoroutineSpawn spawns args[0] (any callable) on a new coroutine,
// returning a Coroutine resource handle the script can coroutine_wait
// on. The spawned goroutine acquires the runtime's evaluator lock for
// the duration of the call, since calling back into the VM's callable
// machinery touches the shared, non-thread-safe refcounted heap.
func (rt *runtime) biCoroutineSpawn(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	callee := args[0]
	callee.Retain(v.Mem)

	parent := context.Background()
	if cur := Current(); cur != nil {
		parent = cur.Context()
	}

	co := rt.sched.Go(parent, func(cctx context.Context) error {
		defer callee.Release(v.Mem)
		if err := rt.lockVM(cctx); err != nil {
			return err
		}
		defer rt.unlockVM()
		_, err := v.CallValue(cctx, callee, nil)
		return err
	})

	// args[0]'s original owned reference is released by callNativeFunction's
	// releaseAll once this function returns, exactly as ArrayPush's callers
	// release their own temporary after the container retains its own copy;
	// the extra retain taken above is the goroutine closure's own reference,
	// released by its defer once the spawned call completes.
	return v.Mem.NewResourceValue(resCoroutine, co, nil), nil
}

func (rt *runtime) biCoroutineWait(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	r, err := resourceHandle(v, args[0], resCoroutine, "coroutine_wait")
	if err != nil {
		return value.Null, err
	}
	co := r.Handle.(*Coroutine)
	if err := co.Wait(); err != nil {
		return value.Null, err
	}
	return value.Null, nil
}

// biCoroutineWaitAll awaits every Coroutine resource in the args[0]
// array concurrently (bounded fan-out, first-error propagation), the
// PHP-visible surface of WaitAll.
func (rt *runtime) biCoroutineWaitAll(ctx interface{}, args []value.Value) (value.Value, error) {
	if err := requireArrayArg(args[0], "coroutine_wait_all"); err != nil {
		return value.Null, err
	}
	v := asVM(ctx)
	arr := v.Mem.ArrayAt(args[0].Handle())

	cos := make([]*Coroutine, 0, arr.Len())
	var resolveErr error
	arr.Each(func(_ heap.ArrayKey, elem value.Value) bool {
		r, err := resourceHandle(v, elem, resCoroutine, "coroutine_wait_all")
		if err != nil {
			resolveErr = err
			return false
		}
		cos = append(cos, r.Handle.(*Coroutine))
		return true
	})
	if resolveErr != nil {
		return value.Null, resolveErr
	}

	if err := WaitAll(currentContext(), cos); err != nil {
		return value.Null, err
	}
	return value.Null, nil
}

func (rt *runtime) biCoroutineCancel(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	r, err := resourceHandle(v, args[0], resCoroutine, "coroutine_cancel")
	if err != nil {
		return value.Null, err
	}
	r.Handle.(*Coroutine).Cancel(rterror.CancelledOperation("", 0))
	return value.Null, nil
}

func (rt *runtime) biCoroutineCancelled(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	r, err := resourceHandle(v, args[0], resCoroutine, "coroutine_cancelled")
	if err != nil {
		return value.Null, err
	}
	return value.OfBool(r.Handle.(*Coroutine).Cancelled()), nil
}

func currentContext() context.Context {
	if cur := Current(); cur != nil {
		return cur.Context()
	}
	return context.Background()
}

func (rt *runtime) biChannelNew(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	capacity := 0
	if len(args) == 1 {
		capacity = int(toInt(args[0]))
	}
	ch := NewChannel(v.Mem, capacity)
	return v.Mem.NewResourceValue(resChannel, ch, func(interface{}) { ch.Close() }), nil
}

func (rt *runtime) biChannelSend(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	r, err := resourceHandle(v, args[0], resChannel, "channel_send")
	if err != nil {
		return value.Null, err
	}
	ch := r.Handle.(*Channel)
	if err := ch.Send(currentContext(), args[1]); err != nil {
		return value.Null, err
	}
	// args[1]'s original reference is released by releaseAll after this
	// returns; Channel.Send already retained its own copy for the buffer.
	return value.True, nil
}

func (rt *runtime) biChannelReceive(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	r, err := resourceHandle(v, args[0], resChannel, "channel_receive")
	if err != nil {
		return value.Null, err
	}
	ch := r.Handle.(*Channel)
	return ch.Receive(currentContext())
}

func (rt *runtime) biChannelClose(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	r, err := resourceHandle(v, args[0], resChannel, "channel_close")
	if err != nil {
		return value.Null, err
	}
	r.Handle.(*Channel).Close()
	return value.Null, nil
}

func (rt *runtime) biMutexNew(ctx interface{}, _ []value.Value) (value.Value, error) {
	v := asVM(ctx)
	return v.Mem.NewResourceValue(resMutex, NewMutex(), nil), nil
}

func (rt *runtime) biMutexLock(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	r, err := resourceHandle(v, args[0], resMutex, "mutex_lock")
	if err != nil {
		return value.Null, err
	}
	r.Handle.(*Mutex).Lock()
	return value.Null, nil
}

func (rt *runtime) biMutexUnlock(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	r, err := resourceHandle(v, args[0], resMutex, "mutex_unlock")
	if err != nil {
		return value.Null, err
	}
	r.Handle.(*Mutex).Unlock()
	return value.Null, nil
}

func (rt *runtime) biMutexTryLock(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	r, err := resourceHandle(v, args[0], resMutex, "mutex_try_lock")
	if err != nil {
		return value.Null, err
	}
	return value.OfBool(r.Handle.(*Mutex).TryLock()), nil
}

func (rt *runtime) biRWLockNew(ctx interface{}, _ []value.Value) (value.Value, error) {
	v := asVM(ctx)
	return v.Mem.NewResourceValue(resRWLock, NewRWLock(), nil), nil
}

func (rt *runtime) biRWLockRead(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	r, err := resourceHandle(v, args[0], resRWLock, "rwlock_read")
	if err != nil {
		return value.Null, err
	}
	r.Handle.(*RWLock).RLock()
	return value.Null, nil
}

func (rt *runtime) biRWLockWrite(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	r, err := resourceHandle(v, args[0], resRWLock, "rwlock_write")
	if err != nil {
		return value.Null, err
	}
	r.Handle.(*RWLock).Lock()
	return value.Null, nil
}

func (rt *runtime) biRWLockUnlockRead(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	r, err := resourceHandle(v, args[0], resRWLock, "rwlock_unlock_read")
	if err != nil {
		return value.Null, err
	}
	r.Handle.(*RWLock).RUnlock()
	return value.Null, nil
}

func (rt *runtime) biRWLockUnlockWrite(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	r, err := resourceHandle(v, args[0], resRWLock, "rwlock_unlock_write")
	if err != nil {
		return value.Null, err
	}
	r.Handle.(*RWLock).Unlock()
	return value.Null, nil
}

// scalarOnly rejects pointer-tagged Values for the primitives that
// store raw bit patterns without refcount bookkeeping (Atomic): a
// pointer Value's refcount lives in the heap box it tags, and
// releaseAll releases the caller's own reference to it unconditionally
// once this call returns, so keeping only the bits around here would
// leave a dangling tag the instant that was the last reference.
func scalarOnly(v value.Value, fn string) error {
	if v.IsPointer() {
		return rterror.TypeErrorf("", 0, "%s: only scalar values (null, bool, int, float) are supported", fn)
	}
	return nil
}

func (rt *runtime) biAtomicNew(ctx interface{}, args []value.Value) (value.Value, error) {
	if err := scalarOnly(args[0], "atomic_new"); err != nil {
		return value.Null, err
	}
	v := asVM(ctx)
	a := NewAtomic(args[0])
	return v.Mem.NewResourceValue(resAtomic, a, nil), nil
}

func (rt *runtime) biAtomicLoad(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	r, err := resourceHandle(v, args[0], resAtomic, "atomic_load")
	if err != nil {
		return value.Null, err
	}
	out := r.Handle.(*Atomic).Load()
	out.Retain(v.Mem)
	return out, nil
}

func (rt *runtime) biAtomicStore(ctx interface{}, args []value.Value) (value.Value, error) {
	if err := scalarOnly(args[1], "atomic_store"); err != nil {
		return value.Null, err
	}
	v := asVM(ctx)
	r, err := resourceHandle(v, args[0], resAtomic, "atomic_store")
	if err != nil {
		return value.Null, err
	}
	r.Handle.(*Atomic).Store(args[1])
	return value.Null, nil
}

func (rt *runtime) biAtomicCompareExchange(ctx interface{}, args []value.Value) (value.Value, error) {
	if err := scalarOnly(args[1], "atomic_compare_exchange"); err != nil {
		return value.Null, err
	}
	if err := scalarOnly(args[2], "atomic_compare_exchange"); err != nil {
		return value.Null, err
	}
	v := asVM(ctx)
	r, err := resourceHandle(v, args[0], resAtomic, "atomic_compare_exchange")
	if err != nil {
		return value.Null, err
	}
	ok := r.Handle.(*Atomic).CompareExchange(args[1], args[2])
	return value.OfBool(ok), nil
}

func (rt *runtime) biSharedDataNew(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	sd := NewSharedData(v.Mem, args[0])
	return v.Mem.NewResourceValue(resSharedData, sd, func(interface{}) { sd.Release() }), nil
}

func (rt *runtime) biSharedDataRead(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	r, err := resourceHandle(v, args[0], resSharedData, "shareddata_read")
	if err != nil {
		return value.Null, err
	}
	var out value.Value
	r.Handle.(*SharedData).Read(func(cur value.Value) {
		out = cur
		out.Retain(v.Mem)
	})
	return out, nil
}

func (rt *runtime) biSharedDataWrite(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	r, err := resourceHandle(v, args[0], resSharedData, "shareddata_write")
	if err != nil {
		return value.Null, err
	}
	r.Handle.(*SharedData).Write(args[1])
	return value.Null, nil
}

// toInt mirrors pkg/stdlib's own numeric coercion helper; duplicated
// here rather than imported to avoid a pkg/concurrent -> pkg/stdlib
// dependency edge (stdlib already depends on pkg/vm, and concurrent's
// registration is independent of stdlib's).
func toInt(v value.Value) int64 {
	switch {
	case v.IsInt():
		return int64(v.AsInt())
	case v.IsFloat():
		return int64(v.AsFloat())
	default:
		return 0
	}
}
