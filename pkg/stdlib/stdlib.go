// Package stdlib implements the StandardLibrary registration contract
// of spec §6: a name -> native-function table consumed at VM startup.
// Grounded on the teacher's pkg/functions/registry.go ("66+ built-in
// functions organized by category"), generalized from JSONata's
// ctx-plus-interface{}-args signature to this runtime's
// fn(*vm.VM, []value.Value) (value.Value, error) contract (SPEC_FULL.md
// §6). Functions are grouped into one file per category exactly as the
// teacher's doc comment lays its own catalogue out: strings, arrays,
// numerics, type introspection.
package stdlib

import (
	"github.com/corewell/phprt/pkg/heap"
	"github.com/corewell/phprt/pkg/vm"
)

// entry pairs a native function with the arity the call protocol
// enforces before Fn ever runs (pkg/vm's checkArity, spec §6 "Native
// functions have signature fn(&mut VM, &[Value]) -> Result<Value,
// Error>").
type entry struct {
	name           string
	fn             heap.NativeCall
	minArgs, maxArgs int
}

// Register installs every function in this package's catalogue onto m,
// the embedder-facing entry point mirrored on the teacher's
// functions.DefaultRegistry().
func Register(m *vm.VM) {
	var all []entry
	all = append(all, stringFunctions()...)
	all = append(all, arrayFunctions()...)
	all = append(all, numericFunctions()...)
	all = append(all, typeFunctions()...)
	for _, e := range all {
		m.RegisterNativeFunction(e.name, e.fn, e.minArgs, e.maxArgs)
	}
}

// asVM recovers the calling VM from the opaque ctx pkg/heap.NativeCall
// passes through; pkg/vm's callNativeFunction always passes itself
// (pkg/vm/call.go callNativeFunction), so this assertion cannot fail
// for functions registered through Register.
func asVM(ctx interface{}) *vm.VM { return ctx.(*vm.VM) }
