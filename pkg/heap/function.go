package heap

import (
	"github.com/corewell/phprt/pkg/ast"
	"github.com/corewell/phprt/pkg/value"
)

// UserFunction is a function/method defined in source: a pointer into
// the owning ast.Tree plus the arity metadata the call protocol needs
// (spec §4.4 "call_user_function validates the arity against
// min_args/max_args"). The spec's Design Notes note the source also
// keeps a JIT-compilation hook alongside the AST pointer; see pkg/jit —
// the tree walker (Body) remains authoritative.
type UserFunction struct {
	Header
	Name     string
	File     string
	Tree     *ast.Tree
	Body     ast.NodeIndex
	Params   []ast.ParamDecl
	MinArgs  int
	MaxArgs  int // -1 when variadic
	Variadic bool
	// Hot is incremented by the evaluator's call protocol on every
	// invocation and compared by that same call protocol (pkg/vm) against
	// the threshold given to VM.SetAccelerator, to decide whether a
	// registered Accelerator should be tried before falling back to the
	// walker.
	Hot int64
}

// NativeCall is the signature every registered standard-library function
// implements. ctx is the calling *vm.VM, passed as interface{} so this
// leaf package never imports pkg/vm (spec §2 dependency order); callers
// in pkg/vm type-assert it back.
type NativeCall func(ctx interface{}, args []value.Value) (value.Value, error)

// NativeFunction wraps a Go-implemented standard-library function (spec
// §6 "Native functions have signature fn(&mut VM, &[Value]) ->
// Result<Value, Error>").
type NativeFunction struct {
	Header
	Name string
	Fn   NativeCall
	MinArgs int
	MaxArgs int // -1 when variadic
}
