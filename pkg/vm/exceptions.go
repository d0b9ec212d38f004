package vm

import (
	"context"

	"github.com/corewell/phprt/pkg/ast"
	"github.com/corewell/phprt/pkg/object"
	"github.com/corewell/phprt/pkg/rterror"
	"github.com/corewell/phprt/pkg/value"
)

// evalThrow implements `throw expr`: expr must evaluate to an object,
// wrapped as a *rterror.PHPException carrying the thrown object so a
// matching catch clause can bind it (spec §4.5).
func (v *VM) evalThrow(ctx context.Context, tree *ast.Tree, n *ast.Node) (value.Value, error) {
	thrown, err := v.Eval(ctx, tree, n.Body)
	if err != nil {
		return value.Null, err
	}
	if !thrown.IsObject() {
		thrown.Release(v.Mem)
		return value.Null, rterror.TypeErrorf(n.File, n.Line, "can only throw objects")
	}
	obj := v.Mem.ObjectAt(thrown.Handle())
	class := v.Classes.ClassByID(obj.Class)
	name := "Exception"
	if class != nil {
		name = class.Name
	}
	return value.Null, rterror.FromThrown(name, thrown, n.File, n.Line)
}

// evalTry implements try/catch/finally (spec §4.5/§4.6): the finally
// block always runs, and if it produces its own outcome (return, a new
// exception, a break/continue) that outcome supersedes whatever was
// pending from the try/catch body.
func (v *VM) evalTry(ctx context.Context, tree *ast.Tree, n *ast.Node) (value.Value, error) {
	_, pending := v.Eval(ctx, tree, n.Body)

	if pending != nil && !isControlSignal(pending) {
		if exc, ok := rterror.AsPHPException(pending); ok {
			for _, c := range n.Catches {
				if v.catchMatches(exc, c) {
					if c.Var != "" {
						bound := exc.Thrown
						if bound.IsNull() {
							bound = value.Null
						}
						v.frame().Locals.Set(c.Var, bound)
						if !bound.IsNull() {
							bound.Release(v.Mem) // frame's Set retained its own copy
						}
					} else if !exc.Thrown.IsNull() {
						exc.Thrown.Release(v.Mem)
					}
					_, pending = v.Eval(ctx, tree, c.Body)
					break
				}
			}
		}
	}

	if n.Finally != 0 {
		if _, ferr := v.Eval(ctx, tree, n.Finally); ferr != nil {
			v.releasePendingOutcome(pending) // finally's outcome supersedes the try/catch one
			return value.Null, ferr
		}
	}
	return value.Null, pending
}

// releasePendingOutcome releases whatever owned Value a superseded
// try/catch outcome was carrying — a signalReturn's return Value or an
// unmatched PHPException's Thrown object — so a finally clause that
// produces its own outcome doesn't leak the reference the discarded
// one held (spec §8's retain/release invariant).
func (v *VM) releasePendingOutcome(pending error) {
	if pending == nil {
		return
	}
	if sr, ok := pending.(signalReturn); ok {
		if !sr.Value.IsNull() {
			sr.Value.Release(v.Mem)
		}
		return
	}
	if exc, ok := rterror.AsPHPException(pending); ok {
		if !exc.Thrown.IsNull() {
			exc.Thrown.Release(v.Mem)
		}
	}
}

// catchMatches reports whether exc's dynamic exception class satisfies
// one of c's listed types (an empty Types list matches anything, the
// PHP `catch (Throwable $e)` idiom).
func (v *VM) catchMatches(exc *rterror.PHPException, c ast.CatchClause) bool {
	if len(c.Types) == 0 {
		return true
	}
	for _, t := range c.Types {
		if t == "Throwable" || t == "Exception" || t == "Error" || t == exc.ClassName {
			return true
		}
		if exc.Thrown.IsObject() {
			obj := v.Mem.ObjectAt(exc.Thrown.Handle())
			if class := v.Classes.ClassByID(obj.Class); class != nil && v.classIsA(class, t) {
				return true
			}
		}
	}
	return false
}

// classIsA reports whether class is, or descends from, or implements
// (directly or transitively) the class/interface named typeName.
func (v *VM) classIsA(class *object.Class, typeName string) bool {
	for cur := class; cur != nil; cur = v.Classes.ClassByID(cur.Parent) {
		if cur.Name == typeName {
			return true
		}
		for _, iid := range cur.Interfaces {
			if iface := v.Classes.ClassByID(iid); iface != nil && v.classIsA(iface, typeName) {
				return true
			}
		}
	}
	return false
}
