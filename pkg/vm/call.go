package vm

import (
	"context"

	"github.com/corewell/phprt/pkg/ast"
	"github.com/corewell/phprt/pkg/heap"
	"github.com/corewell/phprt/pkg/object"
	"github.com/corewell/phprt/pkg/rterror"
	"github.com/corewell/phprt/pkg/value"
)

// evalFunctionDecl registers a top-level `function` declaration and
// evaluates to null; the declared function becomes callable by name
// from this point on (spec §4.4 "function declarations install a
// UserFunction value under the declared name before the body runs").
func (v *VM) evalFunctionDecl(tree *ast.Tree, n *ast.Node) (value.Value, error) {
	d := n.Decl
	fn := v.Mem.NewUserFunctionValue(heap.UserFunction{
		Name: d.Name, File: n.File, Tree: tree, Body: n.Body,
		Params: d.Params, MinArgs: d.MinArgs, MaxArgs: d.MaxArgs, Variadic: d.Variadic,
	})
	v.funcs[d.Name] = fn
	return value.Null, nil
}

// evalClosureDecl builds a Closure box from a `function(){}` or arrow
// expression, capturing each named variable from the current frame by
// value or by reference as the declaration specifies (spec §3 Capture).
func (v *VM) evalClosureDecl(tree *ast.Tree, n *ast.Node) (value.Value, error) {
	d := n.Decl
	fn := v.Mem.NewUserFunctionValue(heap.UserFunction{
		Name: "{closure}", File: n.File, Tree: tree, Body: n.Body,
		Params: d.Params, MinArgs: d.MinArgs, MaxArgs: d.MaxArgs, Variadic: d.Variadic,
	})

	var captures []heap.Capture
	for _, name := range d.ByValCaps {
		val, ok := v.frame().Locals.Get(name)
		if !ok {
			val = value.Null
		}
		captures = append(captures, heap.Capture{Name: name, Mode: heap.ByValue, Value: val})
	}
	for _, name := range d.ByRefCaps {
		cell := v.frame().Locals.Cell(name)
		captures = append(captures, heap.Capture{Name: name, Mode: heap.ByReference, Cell: cell})
	}

	kind := heap.KindClosure
	if n.Kind == ast.KindArrowDecl {
		kind = heap.KindArrow
	}
	receiver, scope := value.Null, heap.ClassID(0)
	if self, ok := v.frame().Locals.Get("this"); ok {
		receiver = self
		if self.IsObject() {
			scope = v.Mem.ObjectAt(self.Handle()).Class
		}
	}
	closure := v.Mem.NewClosureValue(kind, fn, captures, receiver, scope)
	fn.Release(v.Mem) // NewClosureValue retained its own reference to fn
	return closure, nil
}

// evalFunctionCall evaluates a call to a named function or to a
// callable expression (`$fn(...)`), per spec §4.4's call protocol:
// arity validation, variadic tail collection, frame push/pop.
func (v *VM) evalFunctionCall(ctx context.Context, tree *ast.Tree, n *ast.Node) (value.Value, error) {
	args, err := v.evalArgs(ctx, tree, n.Children)
	if err != nil {
		return value.Null, err
	}
	if n.Target != 0 { // a callable expression, e.g. `$fn(...)` or `(...)()`
		callee, err := v.Eval(ctx, tree, n.Target)
		if err != nil {
			releaseAll(v.Mem, args)
			return value.Null, err
		}
		defer callee.Release(v.Mem)
		return v.callCallable(ctx, callee, args, n.File, n.Line)
	}

	if builtin, ok := builtins[n.StrValue]; ok {
		return builtin(v, args)
	}

	fn, ok := v.funcs[n.StrValue]
	if !ok {
		releaseAll(v.Mem, args)
		return value.Null, rterror.UndefinedFunction(n.StrValue, n.File, n.Line)
	}
	return v.callCallable(ctx, fn, args, n.File, n.Line)
}

func (v *VM) evalArgs(ctx context.Context, tree *ast.Tree, children []ast.NodeIndex) ([]value.Value, error) {
	args := make([]value.Value, 0, len(children))
	for _, idx := range children {
		val, err := v.Eval(ctx, tree, idx)
		if err != nil {
			releaseAll(v.Mem, args)
			return nil, err
		}
		args = append(args, val)
	}
	return args, nil
}

func releaseAll(mgr value.Allocator, args []value.Value) {
	for _, a := range args {
		a.Release(mgr)
	}
}

// callCallable dispatches to the right call path for callee's dynamic
// type: user function, native function, or closure (invoking the
// closure's underlying function with its captures bound).
func (v *VM) callCallable(ctx context.Context, callee value.Value, args []value.Value, file string, line int) (value.Value, error) {
	if !callee.IsCallable() {
		releaseAll(v.Mem, args)
		return value.Null, rterror.TypeErrorf(file, line, "value is not callable")
	}
	switch {
	case callee.IsUserFunction():
		return v.callUserFunction(ctx, v.Mem.UserFunctionAt(callee.Handle()), args, nil, value.Null, 0, file, line)
	case callee.IsNativeFunction():
		return v.callNativeFunction(v.Mem.NativeFunctionAt(callee.Handle()), args, file, line)
	case callee.IsClosure():
		return v.callClosure(ctx, v.Mem.ClosureAt(callee.Handle()), args, file, line)
	default:
		releaseAll(v.Mem, args)
		return value.Null, rterror.TypeErrorf(file, line, "value is not callable")
	}
}

func (v *VM) callClosure(ctx context.Context, c *heap.Closure, args []value.Value, file string, line int) (value.Value, error) {
	fn := v.Mem.UserFunctionAt(c.Function.Handle())
	return v.callUserFunction(ctx, fn, args, c.Captures, c.Receiver, c.ScopeClass, file, line)
}

// callNativeFunction validates arity and invokes fn.Fn, passing v as
// the opaque ctx argument native functions type-assert back to *VM
// (pkg/heap.NativeCall's contract, spec §6).
func (v *VM) callNativeFunction(fn *heap.NativeFunction, args []value.Value, file string, line int) (value.Value, error) {
	if err := checkArity(fn.Name, fn.MinArgs, fn.MaxArgs, len(args), file, line); err != nil {
		releaseAll(v.Mem, args)
		return value.Null, err
	}
	result, err := fn.Fn(v, args)
	releaseAll(v.Mem, args)
	return result, err
}

func checkArity(name string, minArgs, maxArgs, got int, file string, line int) error {
	if got < minArgs {
		return rterror.ArgumentCountError(name, minArgs, got, file, line)
	}
	if maxArgs >= 0 && got > maxArgs {
		return rterror.ArgumentCountError(name, maxArgs, got, file, line)
	}
	return nil
}

// callUserFunction implements the full call protocol of spec §4.4:
// validates arity, pushes a new call frame, binds parameters
// (collecting any variadic tail into an array), binds captures and a
// receiver when present, then evaluates the body and translates a
// signalReturn into a plain return value. Every other outcome
// (signalBreak/signalContinue escaping a function body, a real
// exception) propagates unchanged to the caller.
func (v *VM) callUserFunction(ctx context.Context, fn *heap.UserFunction, args []value.Value, captures []heap.Capture, receiver value.Value, scope heap.ClassID, file string, line int) (value.Value, error) {
	if err := v.checkDepth(file, line); err != nil {
		releaseAll(v.Mem, args)
		return value.Null, err
	}
	if err := checkArity(fn.Name, fn.MinArgs, fn.MaxArgs, len(args), file, line); err != nil {
		releaseAll(v.Mem, args)
		return value.Null, err
	}
	fn.Hot++

	frame := heap.NewCallFrame(fn.Name, fn.File, line, v.Mem)
	for _, cap := range captures {
		switch cap.Mode {
		case heap.ByValue:
			frame.Locals.Set(cap.Name, cap.Value)
		case heap.ByReference:
			frame.Locals.Bind(cap.Name, cap.Cell)
		}
	}
	if receiver.IsObject() {
		frame.Locals.Set("this", receiver)
	}

	bindErr := v.bindParams(ctx, fn.Tree, frame, fn.Params, args)
	releaseAll(v.Mem, args)
	if bindErr != nil {
		frame.Pop() // release whatever locals/captures bindParams managed to set before failing
		return value.Null, bindErr
	}

	v.frames = append(v.frames, frame)
	v.pushScope(scope)
	defer func() {
		v.popScope()
		frame.Pop()
		v.frames = v.frames[:len(v.frames)-1]
	}()

	if v.accelerator != nil && fn.Hot >= v.hotThreshold {
		if result, ok, err := v.accelerator.TryCall(ctx, fn, nil); ok {
			return result, err
		}
	}

	_, err := v.Eval(ctx, fn.Tree, fn.Body)
	if err == nil {
		return value.Null, nil
	}
	if ret, ok := err.(signalReturn); ok {
		return ret.Value, nil
	}
	if isControlSignal(err) {
		return value.Null, rterror.TypeErrorf(file, line, "%q outside of a loop", err.Error())
	}
	if exc, ok := rterror.AsPHPException(err); ok {
		exc.AddFrame(rterror.Frame{Function: fn.Name, File: fn.File, Line: line})
	}
	return value.Null, err
}

// bindParams assigns positional args to fn's declared parameters,
// evaluating each parameter's default expression against tree when an
// argument is missing (the same "evaluate once, per use" approach
// buildMemberDecls takes for property defaults), and collecting the
// variadic tail into an array bound to the last parameter (spec §4.4
// "variadic collection").
func (v *VM) bindParams(ctx context.Context, tree *ast.Tree, frame *heap.CallFrame, params []ast.ParamDecl, args []value.Value) error {
	mgr := v.Mem
	for i, p := range params {
		if p.Variadic {
			continue // handled below once every fixed parameter is bound
		}
		if i < len(args) {
			frame.Locals.Set(p.Name, args[i])
			continue
		}
		if p.Default == 0 {
			frame.Locals.Set(p.Name, value.Null)
			continue
		}
		def, err := v.Eval(ctx, tree, p.Default)
		if err != nil {
			return err
		}
		frame.Locals.Set(p.Name, def)
		def.Release(mgr) // frame's Set retained its own copy
	}
	if n := len(params); n > 0 && params[n-1].Variadic {
		rest := mgr.NewArrayValue()
		h := rest.Handle()
		for i := n - 1; i < len(args); i++ {
			mgr.ArrayPush(h, args[i])
		}
		frame.Locals.Set(params[n-1].Name, rest)
		rest.Release(mgr)
	}
	return nil
}

// pushScope/popScope track the class whose `self`/`static` a running
// method body resolves against; a plain function call pushes 0 (no
// scope class).
func (v *VM) pushScope(scope heap.ClassID) { v.scopes = append(v.scopes, scope) }
func (v *VM) popScope()                    { v.scopes = v.scopes[:len(v.scopes)-1] }
func (v *VM) currentScope() heap.ClassID {
	if len(v.scopes) == 0 {
		return 0
	}
	return v.scopes[len(v.scopes)-1]
}

// invokeMethod calls m with self bound as `this` and class as the scope
// for self::/parent::/static:: resolution; used both by explicit
// method-call syntax and by magic-method dispatch (__toString, __get,
// __construct, __clone).
func (v *VM) invokeMethod(ctx context.Context, class *object.Class, m *object.Method, self value.Value, args []value.Value, scope heap.ClassID) (value.Value, error) {
	if m.Fn.IsNativeFunction() {
		return v.callNativeFunction(v.Mem.NativeFunctionAt(m.Fn.Handle()), args, "", 0)
	}
	return v.callUserFunction(ctx, v.Mem.UserFunctionAt(m.Fn.Handle()), args, nil, self, scope, "", 0)
}
