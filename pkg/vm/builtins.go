package vm

import "github.com/corewell/phprt/pkg/value"

// builtinFn implements a language construct that looks like a function
// call but is resolved before any pkg/stdlib lookup (spec §4.4 treats
// echo/print as statement-level constructs; this runtime dispatches
// them through the same call path as an ordinary function for
// uniformity, the way the teacher dispatches its builtin pipeline
// stages through one evaluation entry point).
type builtinFn func(v *VM, args []value.Value) (value.Value, error)

var builtins = map[string]builtinFn{
	"echo":  biEcho,
	"print": biPrint,
}

func biEcho(v *VM, args []value.Value) (value.Value, error) {
	for _, a := range args {
		v.echo(a.ToString(v.Mem))
	}
	releaseAll(v.Mem, args)
	return value.Null, nil
}

func biPrint(v *VM, args []value.Value) (value.Value, error) {
	for _, a := range args {
		v.echo(a.ToString(v.Mem))
	}
	releaseAll(v.Mem, args)
	return value.OfInt(1), nil
}
