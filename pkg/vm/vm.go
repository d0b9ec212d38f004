// Package vm implements the tree-walking evaluator of spec §4.4: a
// recursive walk over ast.Tree node indices that computes a
// value.Value per node, threading retain/release discipline, the
// function-call protocol, and control-flow signalling through a
// call-frame stack. Modelled on the teacher's Evaluator/EvalOptions
// (pkg/evaluator/evaluator.go): a functional-options constructor, a
// *slog.Logger carried for structured diagnostics, and
// context.Context threaded through every blocking/recursive entry
// point for cancellation (SPEC_FULL.md §2 ambient-concern table).
package vm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/corewell/phprt/pkg/ast"
	"github.com/corewell/phprt/pkg/gcpolicy"
	"github.com/corewell/phprt/pkg/heap"
	"github.com/corewell/phprt/pkg/memory"
	"github.com/corewell/phprt/pkg/object"
	"github.com/corewell/phprt/pkg/rterror"
	"github.com/corewell/phprt/pkg/value"
)

// Options configures a VM, in the teacher's functional-options register.
type Options struct {
	Logger      *slog.Logger
	Output      io.Writer
	MaxDepth    int
	Timeout     time.Duration
	GCPolicy    *gcpolicy.Policy
	ErrorHandler *rterror.ErrorHandler
}

// Option mutates Options during construction.
type Option func(*Options)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option { return func(o *Options) { o.Logger = l } }

// WithOutput overrides where `echo`/`print` write (os.Stdout by default).
func WithOutput(w io.Writer) Option { return func(o *Options) { o.Output = w } }

// WithMaxDepth bounds call/recursion depth (default 10000, mirroring
// the teacher's EvalOptions.MaxDepth).
func WithMaxDepth(n int) Option { return func(o *Options) { o.MaxDepth = n } }

// WithTimeout bounds total evaluation wall-clock time via the VM's
// internal context (default 30s, mirroring EvalOptions.Timeout).
func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }

// WithGCPolicy installs a pre-configured GC policy engine instead of
// the default thresholds.
func WithGCPolicy(p *gcpolicy.Policy) Option { return func(o *Options) { o.GCPolicy = p } }

// WithErrorHandler installs a pre-configured uncaught-exception handler.
func WithErrorHandler(h *rterror.ErrorHandler) Option { return func(o *Options) { o.ErrorHandler = h } }

// VM is the evaluator: memory manager, class registry, global scope,
// call-frame stack, and the ambient services (logging, GC policy,
// error handling) every evaluation path may consult.
type VM struct {
	opts Options

	Mem     *memory.Manager
	Classes *object.Registry

	globals *heap.Environment
	frames  []*heap.CallFrame
	funcs   map[string]value.Value // name -> PtrUserFunction | PtrNativeFunction
	statics map[string]value.Value // "Class::prop" -> value, outlives any call frame

	accelerator Accelerator
	hotThreshold int64

	// scopes tracks the class (if any) each active call frame runs
	// against, for self::/parent::/static:: resolution (spec §4.3).
	scopes []heap.ClassID

	tryDepth int // diagnostic only; try/catch bookkeeping lives on the Go call stack
}

// Accelerator is consulted before the tree walker for a hot
// UserFunction (SPEC_FULL.md §4.9); defined here (not imported from
// pkg/jit) to avoid a dependency from vm on jit — pkg/jit imports vm's
// Accelerator-compatible shape instead. See pkg/jit.Hook for the
// wazero-backed implementation.
type Accelerator interface {
	// TryCall attempts to run fn with args without falling back to the
	// tree walker. ok is false if the accelerator declines (e.g. no
	// compiled module registered for fn), in which case the caller must
	// run the normal call protocol.
	TryCall(ctx context.Context, fn *heap.UserFunction, args []value.Value) (result value.Value, ok bool, err error)
}

// New returns a VM with empty globals and a fresh class registry.
func New(mgr *memory.Manager, classes *object.Registry, opts ...Option) *VM {
	o := Options{MaxDepth: 10000, Timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Output == nil {
		o.Output = os.Stdout
	}
	if o.GCPolicy == nil {
		o.GCPolicy = gcpolicy.New(nil)
	}
	if o.ErrorHandler == nil {
		o.ErrorHandler = rterror.NewErrorHandler(rterror.WithLogger(o.Logger))
	}

	v := &VM{
		opts:    o,
		Mem:     mgr,
		Classes: classes,
		globals: heap.NewEnvironment(mgr),
		funcs:   make(map[string]value.Value),
		statics: make(map[string]value.Value),
	}
	mgr.SetRoots(v.gcRoots)
	mgr.SetObjectStringer(v.objectToString)
	return v
}

// SetAccelerator registers the optional JIT hook (SPEC_FULL.md §4.9).
func (v *VM) SetAccelerator(a Accelerator, hotThreshold int64) {
	v.accelerator = a
	v.hotThreshold = hotThreshold
}

// RegisterNativeFunction installs a standard-library function under
// name (pkg/stdlib's registration contract).
func (v *VM) RegisterNativeFunction(name string, fn heap.NativeCall, minArgs, maxArgs int) {
	nf := v.Mem.NewNativeFunctionValue(heap.NativeFunction{Name: name, Fn: fn, MinArgs: minArgs, MaxArgs: maxArgs})
	v.funcs[name] = nf
}

// gcRoots supplies every Value the GC must treat as reachable: global
// bindings plus every active call frame's locals and pending return
// slot (spec §4.2 "marks from roots").
func (v *VM) gcRoots() []value.Value {
	var roots []value.Value
	for _, name := range v.globals.Names() {
		val, _ := v.globals.Get(name)
		roots = append(roots, val)
	}
	for _, f := range v.frames {
		for _, name := range f.Locals.Names() {
			val, _ := f.Locals.Get(name)
			roots = append(roots, val)
		}
		roots = append(roots, f.ReturnSlot)
	}
	for _, val := range v.statics {
		roots = append(roots, val)
	}
	return roots
}

// staticPropertyKey builds the statics map key for a class's static
// property, qualified by declaring class name so two classes with the
// same property name never collide.
func staticPropertyKey(class, name string) string { return class + "::" + name }

// getStaticProperty reads a class static property, or value.Null if
// unset.
func (v *VM) getStaticProperty(class, name string) value.Value {
	val, ok := v.statics[staticPropertyKey(class, name)]
	if !ok {
		return value.Null
	}
	val.Retain(v.Mem)
	return val
}

// setStaticProperty retains val and installs it, releasing whatever was
// previously stored under the same key.
func (v *VM) setStaticProperty(class, name string, val value.Value) {
	key := staticPropertyKey(class, name)
	if old, ok := v.statics[key]; ok {
		old.Release(v.Mem)
	}
	val.Retain(v.Mem)
	v.statics[key] = val
}

// objectToString invokes __toString on the object at handle, per
// value.Allocator.ToString's contract for PtrObject (spec §4.1
// coercion rules). Installed on the Manager so pkg/heap/pkg/memory
// never need to import pkg/object/pkg/vm.
func (v *VM) objectToString(handle uint32) string {
	obj := v.Mem.ObjectAt(handle)
	class := v.Classes.ClassByID(obj.Class)
	if class == nil {
		return "Object"
	}
	m, ok := class.ResolveMethod(object.MagicToString)
	if !ok {
		return class.Name
	}
	self := value.OfPointer(value.PtrObject, handle)
	result, err := v.invokeMethod(context.Background(), class, m, self, nil, obj.Class)
	if err != nil {
		return class.Name
	}
	return result.ToString(v.Mem)
}

// Run evaluates the program rooted at tree.Root inside a fresh top-level
// frame, honoring Options.Timeout.
func (v *VM) Run(tree *ast.Tree) error {
	ctx, cancel := context.WithTimeout(context.Background(), v.opts.Timeout)
	defer cancel()

	frame := heap.NewCallFrame("{main}", "", 0, v.Mem)
	v.frames = append(v.frames, frame)
	defer func() {
		frame.Pop()
		v.frames = v.frames[:len(v.frames)-1]
	}()

	_, err := v.Eval(ctx, tree, tree.Root)
	if err == nil {
		return nil
	}
	if isControlSignal(err) {
		return nil // a bare top-level `return` simply ends the script
	}
	if exc, ok := rterror.AsPHPException(err); ok {
		v.opts.ErrorHandler.HandleUncaught(exc)
		if !exc.Thrown.IsNull() {
			exc.Thrown.Release(v.Mem)
		}
		return exc
	}
	return err
}

// echo writes s to the configured output, the implementation behind
// the `echo`/`print` language constructs (a KindFunctionCall that
// call.go's evalFunctionCall resolves through the builtins table).
func (v *VM) echo(s string) { fmt.Fprint(v.opts.Output, s) }

// Echo exposes the VM's configured output sink to native functions
// registered from pkg/stdlib (e.g. var_dump/print_r, which write
// directly rather than returning a value to be echoed by the caller).
func (v *VM) Echo(s string) { v.echo(s) }

// CallValue invokes an arbitrary callable Value (closure, user
// function, or native function) with args, for native functions that
// themselves accept a callback argument (pkg/stdlib's array_map/
// array_filter/array_reduce, spec §6's higher-order-function category).
// Ownership of every element of args transfers to CallValue, which
// releases them before returning (callCallable's own contract); callee
// itself is borrowed and must still be released by the caller.
func (v *VM) CallValue(ctx context.Context, callee value.Value, args []value.Value) (value.Value, error) {
	return v.callCallable(ctx, callee, args, "", 0)
}

// LooseEquals exposes the `==` coercion table to pkg/stdlib (e.g.
// in_array's default non-strict comparison mode).
func (v *VM) LooseEquals(a, b value.Value) bool { return v.looseEquals(a, b) }

// KeyValue boxes an ArrayKey back into a Value (int or string), for
// native functions that need to materialize array_keys()-style results.
func (v *VM) KeyValue(k heap.ArrayKey) value.Value { return v.keyValue(k) }

// Logger exposes the VM's structured logger (e.g. for pkg/stdlib
// functions that want to log diagnostics).
func (v *VM) Logger() *slog.Logger { return v.opts.Logger }

// checkDepth enforces Options.MaxDepth against the current frame stack,
// raising a stack-overflow TypeError rather than letting Go's own stack
// overflow (spec §4.4 call protocol is defined to be well-behaved on
// runaway recursion).
func (v *VM) checkDepth(file string, line int) error {
	if len(v.frames) >= v.opts.MaxDepth {
		return rterror.TypeErrorf(file, line, "Maximum call stack depth of %d exceeded", v.opts.MaxDepth)
	}
	return nil
}
