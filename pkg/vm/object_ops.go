package vm

import (
	"context"

	"github.com/corewell/phprt/pkg/ast"
	"github.com/corewell/phprt/pkg/heap"
	"github.com/corewell/phprt/pkg/object"
	"github.com/corewell/phprt/pkg/rterror"
	"github.com/corewell/phprt/pkg/value"
)

// resolveClassRef resolves a class-reference name against the current
// call scope: "self" and "static" both resolve to the scope class
// (late static binding is not distinguished from early binding in this
// runtime — see DESIGN.md), "parent" resolves to the scope class's
// declared parent, anything else is looked up by name in the registry.
func (v *VM) resolveClassRef(name, file string, line int) (*object.Class, error) {
	switch name {
	case "self", "static":
		class := v.Classes.ClassByID(v.currentScope())
		if class == nil {
			return nil, rterror.TypeErrorf(file, line, "cannot use %q outside of a class method", name)
		}
		return class, nil
	case "parent":
		class := v.Classes.ClassByID(v.currentScope())
		if class == nil || class.Parent == 0 {
			return nil, rterror.TypeErrorf(file, line, "cannot use \"parent\" without a parent class")
		}
		return v.Classes.ClassByID(class.Parent), nil
	default:
		class, ok := v.Classes.ClassByName(name)
		if !ok {
			return nil, rterror.UndefinedClass(name, file, line)
		}
		return class, nil
	}
}

// evalTypeDecl processes a class/interface/trait/struct declaration,
// registering it in v.Classes and evaluating to null. Property default
// expressions are evaluated once, at declaration time, and stored as
// the PropertyDecl default (spec §4.3 "applied in declaration order
// before __construct runs").
func (v *VM) evalTypeDecl(tree *ast.Tree, n *ast.Node) (value.Value, error) {
	d := n.Decl
	switch n.Kind {
	case ast.KindInterfaceDecl:
		var parents []heap.ClassID
		for _, pname := range d.Interfaces {
			if c, ok := v.Classes.ClassByName(pname); ok {
				parents = append(parents, c.ID)
			}
		}
		var methodNames []string
		for _, mIdx := range d.Methods {
			methodNames = append(methodNames, tree.Node(mIdx).Decl.Name)
		}
		_, err := v.Classes.DefineInterface(d.Name, parents, methodNames)
		return value.Null, err

	case ast.KindTraitDecl:
		decls, props, err := v.buildMemberDecls(context.Background(), tree, d)
		if err != nil {
			return value.Null, err
		}
		_, err = v.Classes.DefineTrait(d.Name, decls, props)
		return value.Null, err

	case ast.KindClassDecl, ast.KindStructDecl:
		decls, props, err := v.buildMemberDecls(context.Background(), tree, d)
		if err != nil {
			return value.Null, err
		}
		spec := object.ClassSpec{
			Name: d.Name, Abstract: d.Abstract, Final: d.Final,
			Methods: decls, Properties: props,
		}
		if d.Parent != "" {
			parent, ok := v.Classes.ClassByName(d.Parent)
			if !ok {
				return value.Null, rterror.UndefinedClass(d.Parent, n.File, n.Line)
			}
			spec.Parent = parent.ID
		}
		for _, iname := range d.Interfaces {
			if c, ok := v.Classes.ClassByName(iname); ok {
				spec.Interfaces = append(spec.Interfaces, c.ID)
			}
		}
		for _, tname := range d.Traits {
			if c, ok := v.Classes.ClassByName(tname); ok {
				spec.Traits = append(spec.Traits, c.ID)
			}
		}
		_, err = v.Classes.DefineClass(spec)
		return value.Null, err

	default:
		return value.Null, rterror.TypeErrorf(n.File, n.Line, "unhandled declaration kind %q", n.Kind)
	}
}

// buildMemberDecls evaluates a class/trait body's method and property
// nodes into pkg/object's declaration structs.
func (v *VM) buildMemberDecls(ctx context.Context, tree *ast.Tree, d *ast.DeclInfo) ([]object.MethodDecl, []object.PropertyDecl, error) {
	var methods []object.MethodDecl
	for _, mIdx := range d.Methods {
		mNode := tree.Node(mIdx)
		md := mNode.Decl
		fn := v.Mem.NewUserFunctionValue(heap.UserFunction{
			Name: md.Name, File: mNode.File, Tree: tree, Body: mNode.Body,
			Params: md.Params, MinArgs: md.MinArgs, MaxArgs: md.MaxArgs, Variadic: md.Variadic,
		})
		methods = append(methods, object.MethodDecl{
			Name: md.Name, Fn: fn, Visibility: visibilityOf(md.Visibility),
			Static: md.Static, Abstract: mNode.Body == 0, Final: md.Final,
		})
	}
	var props []object.PropertyDecl
	for _, p := range d.Properties {
		def := value.Null
		if p.Default != 0 {
			val, err := v.Eval(ctx, tree, p.Default)
			if err != nil {
				return nil, nil, err
			}
			def = val
		}
		props = append(props, object.PropertyDecl{Name: p.Name, Default: def, Readonly: p.Readonly})
	}
	return methods, props, nil
}

func visibilityOf(s string) object.Visibility {
	switch s {
	case "protected":
		return object.Protected
	case "private":
		return object.Private
	default:
		return object.Public
	}
}

// evalObjectInit implements `new ClassName(...)`: allocates the
// instance, applies property defaults (pkg/object.NewInstance), then
// runs __construct if declared (spec §4.3).
func (v *VM) evalObjectInit(ctx context.Context, tree *ast.Tree, n *ast.Node) (value.Value, error) {
	class, err := v.resolveClassRef(n.ClassName, n.File, n.Line)
	if err != nil {
		return value.Null, err
	}
	if class.IsAbstract || class.IsInterface {
		return value.Null, rterror.AbstractInstantiation(class.Name, n.File, n.Line)
	}
	args, err := v.evalArgs(ctx, tree, n.Children)
	if err != nil {
		return value.Null, err
	}
	self, err := object.NewInstance(v.Mem, class)
	if err != nil {
		releaseAll(v.Mem, args)
		return value.Null, rterror.AbstractInstantiation(class.Name, n.File, n.Line)
	}
	if ctor, ok := class.ResolveMethod(object.MagicConstruct); ok {
		_, err := v.invokeMethod(ctx, class, ctor, self, args, class.ID)
		if err != nil {
			self.Release(v.Mem)
			return value.Null, err
		}
		return self, nil
	}
	releaseAll(v.Mem, args)
	return self, nil
}

// evalPropertyAccess implements `$obj->prop`, falling back to __get
// when name is not a declared property (spec §4.3 magic methods).
func (v *VM) evalPropertyAccess(ctx context.Context, tree *ast.Tree, n *ast.Node) (value.Value, error) {
	objVal, err := v.Eval(ctx, tree, n.Target)
	if err != nil {
		return value.Null, err
	}
	defer objVal.Release(v.Mem)
	if !objVal.IsObject() {
		return value.Null, rterror.TypeErrorf(n.File, n.Line, "attempt to read property %q on a non-object value", n.StrValue)
	}
	obj := v.Mem.ObjectAt(objVal.Handle())
	class := v.Classes.ClassByID(obj.Class)
	if got, ok := object.GetProperty(v.Mem, v.Classes, obj, n.StrValue); ok {
		got.Retain(v.Mem)
		return got, nil
	}
	if m, ok := class.ResolveMethod(object.MagicGet); ok {
		nameArg := v.Mem.NewString([]byte(n.StrValue))
		return v.invokeMethod(ctx, class, m, objVal, []value.Value{nameArg}, class.ID)
	}
	return value.Null, rterror.UndefinedProperty(class.Name, n.StrValue, n.File, n.Line)
}

// setProperty implements `$obj->prop = v`, enforcing readonly
// (deferred to pkg/vm per SPEC_FULL.md §2 dependency order) and falling
// back to __set when name is undeclared.
func (v *VM) setProperty(objVal value.Value, name string, val value.Value, file string, line int) error {
	if !objVal.IsObject() {
		return rterror.TypeErrorf(file, line, "attempt to assign property %q on a non-object value", name)
	}
	obj := v.Mem.ObjectAt(objVal.Handle())
	class := v.Classes.ClassByID(obj.Class)
	if class.IsReadonly(name) {
		if cur, found := object.GetProperty(v.Mem, v.Classes, obj, name); found && !cur.IsNull() {
			return rterror.ReadonlyViolation(class.Name, name, file, line)
		}
	}
	if _, found := v.Classes.Shapes().Resolve(obj.Shape, name); !found {
		if m, ok := class.ResolveMethod(object.MagicSet); ok {
			nameArg := v.Mem.NewString([]byte(name))
			val.Retain(v.Mem)
			_, err := v.invokeMethod(context.Background(), class, m, objVal, []value.Value{nameArg, val}, class.ID)
			return err
		}
	}
	object.SetProperty(v.Mem, v.Classes, objVal.Handle(), name, val)
	return nil
}

func (v *VM) evalStaticProperty(tree *ast.Tree, n *ast.Node) (value.Value, error) {
	class, err := v.resolveClassRef(n.ClassName, n.File, n.Line)
	if err != nil {
		return value.Null, err
	}
	return v.getStaticProperty(class.Name, n.StrValue), nil
}

func (v *VM) evalClassConstant(tree *ast.Tree, n *ast.Node) (value.Value, error) {
	class, err := v.resolveClassRef(n.ClassName, n.File, n.Line)
	if err != nil {
		return value.Null, err
	}
	val, ok := class.ResolveConstant(v.Classes, n.StrValue)
	if !ok {
		return value.Null, rterror.UndefinedProperty(class.Name, n.StrValue, n.File, n.Line)
	}
	val.Retain(v.Mem)
	return val, nil
}

// evalMethodCall implements `$obj->method(...)`, falling back to
// __call when name is not declared (spec §4.3).
func (v *VM) evalMethodCall(ctx context.Context, tree *ast.Tree, n *ast.Node) (value.Value, error) {
	objVal, err := v.Eval(ctx, tree, n.Target)
	if err != nil {
		return value.Null, err
	}
	defer objVal.Release(v.Mem)
	args, err := v.evalArgs(ctx, tree, n.Children)
	if err != nil {
		return value.Null, err
	}
	if !objVal.IsObject() {
		releaseAll(v.Mem, args)
		return value.Null, rterror.TypeErrorf(n.File, n.Line, "call to method %q on a non-object value", n.StrValue)
	}
	obj := v.Mem.ObjectAt(objVal.Handle())
	class := v.Classes.ClassByID(obj.Class)
	if m, ok := class.ResolveMethod(n.StrValue); ok {
		return v.invokeMethod(ctx, class, m, objVal, args, class.ID)
	}
	if m, ok := class.ResolveMethod(object.MagicCall); ok {
		argArr := v.Mem.NewArrayValue()
		h := argArr.Handle()
		for _, a := range args {
			v.Mem.ArrayPush(h, a)
		}
		releaseAll(v.Mem, args)
		nameArg := v.Mem.NewString([]byte(n.StrValue))
		return v.invokeMethod(ctx, class, m, objVal, []value.Value{nameArg, argArr}, class.ID)
	}
	releaseAll(v.Mem, args)
	return value.Null, rterror.UndefinedMethod(class.Name, n.StrValue, n.File, n.Line)
}

// evalStaticCall implements `Class::method(...)`, including
// `parent::method(...)` from inside an overriding method.
func (v *VM) evalStaticCall(ctx context.Context, tree *ast.Tree, n *ast.Node) (value.Value, error) {
	class, err := v.resolveClassRef(n.ClassName, n.File, n.Line)
	if err != nil {
		return value.Null, err
	}
	args, err := v.evalArgs(ctx, tree, n.Children)
	if err != nil {
		return value.Null, err
	}
	m, ok := class.ResolveMethod(n.StrValue)
	if !ok {
		if m2, ok2 := class.ResolveMethod(object.MagicCallStatic); ok2 {
			argArr := v.Mem.NewArrayValue()
			h := argArr.Handle()
			for _, a := range args {
				v.Mem.ArrayPush(h, a)
			}
			releaseAll(v.Mem, args)
			nameArg := v.Mem.NewString([]byte(n.StrValue))
			return v.invokeMethod(ctx, class, m2, value.Null, []value.Value{nameArg, argArr}, class.ID)
		}
		releaseAll(v.Mem, args)
		return value.Null, rterror.UndefinedMethod(class.Name, n.StrValue, n.File, n.Line)
	}
	self := value.Null
	if !m.Static {
		if this, ok := v.frame().Locals.Get("this"); ok {
			self = this
		}
	}
	return v.invokeMethod(ctx, class, m, self, args, class.ID)
}

// evalCloneWith implements both `clone $obj` (no overrides) and `clone
// $obj with {prop: value, ...}` (spec §4.3 "extends with a pre-
// validated override map"), running __clone on the copy afterward.
func (v *VM) evalCloneWith(ctx context.Context, tree *ast.Tree, n *ast.Node) (value.Value, error) {
	srcVal, err := v.Eval(ctx, tree, n.Target)
	if err != nil {
		return value.Null, err
	}
	defer srcVal.Release(v.Mem)
	if !srcVal.IsObject() {
		return value.Null, rterror.TypeErrorf(n.File, n.Line, "clone requires an object value")
	}
	out := object.Clone(v.Mem, srcVal.Handle())
	obj := v.Mem.ObjectAt(out.Handle())
	class := v.Classes.ClassByID(obj.Class)

	for _, ovIdx := range n.Children {
		ov := tree.Node(ovIdx)
		val, err := v.Eval(ctx, tree, ov.RHS)
		if err != nil {
			out.Release(v.Mem)
			return value.Null, err
		}
		if class.IsReadonly(ov.StrValue) {
			val.Release(v.Mem)
			out.Release(v.Mem)
			return value.Null, rterror.ReadonlyViolation(class.Name, ov.StrValue, ov.File, ov.Line)
		}
		object.SetProperty(v.Mem, v.Classes, out.Handle(), ov.StrValue, val)
		val.Release(v.Mem)
	}

	if m, ok := class.ResolveMethod(object.MagicClone); ok {
		if _, err := v.invokeMethod(ctx, class, m, out, nil, class.ID); err != nil {
			out.Release(v.Mem)
			return value.Null, err
		}
	}
	return out, nil
}
