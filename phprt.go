// Package phprt is a small, embeddable interpreter for a PHP-like
// dynamic scripting language: NaN-boxed values, a ref-counted heap with
// a generational collector, a hidden-shape object model, and a
// tree-walking evaluator, reachable either directly (phprt.New +
// (*Runtime).Run) or behind the bundled HTTP server
// (phprt.NewHTTPServer).
//
// # Quick Start
//
//	rt := phprt.New()
//	if err := rt.Run(tree); err != nil {
//	    log.Fatal(err)
//	}
//
//	// With options
//	rt := phprt.New(
//	    phprt.WithOutput(os.Stdout),
//	    phprt.WithTimeout(5*time.Second),
//	).WithConcurrency()
//
// # More Information
//
// For detailed documentation, see:
//   - Values & heap: github.com/corewell/phprt/pkg/value, pkg/heap
//   - Evaluator: github.com/corewell/phprt/pkg/vm
//   - Standard library: github.com/corewell/phprt/pkg/stdlib
//   - Concurrency substrate: github.com/corewell/phprt/pkg/concurrent
//   - HTTP server: github.com/corewell/phprt/pkg/httpserver
//   - Accelerator hook: github.com/corewell/phprt/pkg/jit
package phprt

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/corewell/phprt/pkg/ast"
	"github.com/corewell/phprt/pkg/concurrent"
	"github.com/corewell/phprt/pkg/gcpolicy"
	"github.com/corewell/phprt/pkg/httpserver"
	"github.com/corewell/phprt/pkg/jit"
	"github.com/corewell/phprt/pkg/memory"
	"github.com/corewell/phprt/pkg/object"
	"github.com/corewell/phprt/pkg/stdlib"
	"github.com/corewell/phprt/pkg/value"
	"github.com/corewell/phprt/pkg/vm"
)

// Version identifies this build of the runtime.
func Version() string { return "v0.1.0-dev" }

// Option is a type alias for vm.Option so callers configuring a
// Runtime do not need to import pkg/vm directly.
type Option = vm.Option

// WithLogger re-exports vm.WithLogger for convenience.
func WithLogger(l *slog.Logger) Option { return vm.WithLogger(l) }

// WithOutput re-exports vm.WithOutput for convenience.
func WithOutput(w io.Writer) Option { return vm.WithOutput(w) }

// WithTimeout re-exports vm.WithTimeout for convenience.
func WithTimeout(d time.Duration) Option { return vm.WithTimeout(d) }

// WithMaxDepth re-exports vm.WithMaxDepth for convenience.
func WithMaxDepth(n int) Option { return vm.WithMaxDepth(n) }

// Runtime bundles a VM with its memory manager and class registry —
// the three things every embedding needs together, analogous to the
// teacher's top-level Evaluator but pointed at a ref-counted heap
// instead of an immutable-JSON data model.
type Runtime struct {
	VM      *vm.VM
	Mem     *memory.Manager
	Classes *object.Registry

	concurrencyEnabled bool
}

// New constructs a Runtime: a fresh memory manager, class registry,
// and VM, with the standard library already registered (mirroring the
// teacher's gosonata.go convenience constructors, generalized from
// "compile and evaluate one query" to "own one interpreter instance").
func New(opts ...Option) *Runtime {
	mgr := memory.NewManager(nil)
	classes := object.NewRegistry()
	m := vm.New(mgr, classes, opts...)
	stdlib.Register(m)
	return &Runtime{VM: m, Mem: mgr, Classes: classes}
}

// WithConcurrency registers the coroutine/channel/mutex/atomic builtin
// catalogue (pkg/concurrent) onto the Runtime's VM. It is a Runtime
// method rather than a vm.Option because pkg/concurrent imports pkg/vm
// (registration needs a live *vm.VM to attach native functions to),
// so it cannot run during vm.New's own option application.
func (r *Runtime) WithConcurrency() *Runtime {
	if !r.concurrencyEnabled {
		concurrent.Register(r.VM)
		r.concurrencyEnabled = true
	}
	return r
}

// WithAccelerator attaches a pkg/jit.Hook as the VM's optional
// bytecode/WASM accelerator (SPEC_FULL.md §4.9): fn becomes eligible
// for hook.TryCall once its call count reaches hotThreshold. The tree
// walker remains authoritative — TryCall declining falls straight
// through to it.
func (r *Runtime) WithAccelerator(hook *jit.Hook, hotThreshold int64) *Runtime {
	r.VM.SetAccelerator(hook, hotThreshold)
	return r
}

// DefaultGCPolicy constructs a gcpolicy.Policy with Prometheus metrics
// disabled, a convenience for callers who only want WithGCPolicy's
// adaptive tuning without wiring a registry themselves.
func DefaultGCPolicy() *gcpolicy.Policy { return gcpolicy.New(nil) }

// Run evaluates tree's root against this Runtime's globals, honoring
// the VM's configured timeout (vm.WithTimeout).
func (r *Runtime) Run(tree *ast.Tree) error {
	return r.VM.Run(tree)
}

// Eval evaluates a single node of tree and returns its Value,
// retained for the caller (pkg/vm.VM.Eval's own contract) — the
// lower-level counterpart to Run for embedders that need a single
// expression's result rather than top-level statement execution.
func (r *Runtime) Eval(ctx context.Context, tree *ast.Tree, node ast.NodeIndex) (value.Value, error) {
	return r.VM.Eval(ctx, tree, node)
}

// NewHTTPServer builds an httpserver.Server and httpserver.Bridge
// sharing a fresh Runtime: route handlers registered via
// srv.Router().Handle(method, pattern, bridge.Handler(closureValue))
// run PHP closures against each request's HttpRequest/HttpResponse
// objects — ordinary Values flowing through the same VM, heap, and GC
// policy as any other script (SPEC_FULL.md §4.8's per-request arena
// model). Concurrency is enabled automatically since concurrent
// per-request dispatch is httpserver's whole point.
func NewHTTPServer(serverOpts []httpserver.Option, vmOpts ...Option) (*httpserver.Server, *Runtime, *httpserver.Bridge, error) {
	rt := New(vmOpts...)
	rt.WithConcurrency()

	bridge, err := httpserver.NewBridge(rt.VM, rt.Classes)
	if err != nil {
		return nil, nil, nil, err
	}

	srv := httpserver.New(serverOpts...)
	return srv, rt, bridge, nil
}
