package vm

import (
	"context"
	"fmt"
	"math"

	"github.com/corewell/phprt/pkg/ast"
	"github.com/corewell/phprt/pkg/heap"
	"github.com/corewell/phprt/pkg/rterror"
	"github.com/corewell/phprt/pkg/value"
)

// Eval walks the node at idx and returns its Value. Every path that
// returns a pointer Value returns it retained; callers that discard a
// temporary rather than binding or returning it must release it (spec
// §4.4 invariants).
func (v *VM) Eval(ctx context.Context, tree *ast.Tree, idx ast.NodeIndex) (value.Value, error) {
	if err := ctx.Err(); err != nil {
		return value.Null, rterror.CancelledOperation("", 0)
	}
	if idx == 0 {
		return value.Null, nil
	}
	n := tree.Node(idx)
	switch n.Kind {
	case ast.KindLiteral:
		return v.evalLiteral(n), nil
	case ast.KindVariable:
		return v.evalVariable(n)
	case ast.KindAssignment:
		return v.evalAssignment(ctx, tree, n)
	case ast.KindBinary:
		return v.evalBinary(ctx, tree, n)
	case ast.KindUnary:
		return v.evalUnary(ctx, tree, n)
	case ast.KindTernary:
		return v.evalTernary(ctx, tree, n)
	case ast.KindPostfix:
		return v.evalPostfix(ctx, tree, n)
	case ast.KindPipe:
		return v.evalPipe(ctx, tree, n)
	case ast.KindBlock:
		return v.evalBlock(ctx, tree, n)
	case ast.KindIf:
		return v.evalIf(ctx, tree, n)
	case ast.KindWhile:
		return v.evalWhile(ctx, tree, n)
	case ast.KindDoWhile:
		return v.evalDoWhile(ctx, tree, n)
	case ast.KindFor:
		return v.evalFor(ctx, tree, n)
	case ast.KindForeach:
		return v.evalForeach(ctx, tree, n)
	case ast.KindSwitch:
		return v.evalSwitch(ctx, tree, n)
	case ast.KindBreak:
		return value.Null, signalBreak{N: max1(n.LoopLevel)}
	case ast.KindContinue:
		return value.Null, signalContinue{N: max1(n.LoopLevel)}
	case ast.KindReturn:
		val, err := v.Eval(ctx, tree, n.Body)
		if err != nil {
			return value.Null, err
		}
		return value.Null, signalReturn{Value: val}
	case ast.KindArrayInit:
		return v.evalArrayInit(ctx, tree, n)
	case ast.KindArrayAccess:
		return v.evalArrayAccess(ctx, tree, n)
	case ast.KindFunctionCall:
		return v.evalFunctionCall(ctx, tree, n)
	case ast.KindFunctionDecl:
		return v.evalFunctionDecl(tree, n)
	case ast.KindClosureDecl, ast.KindArrowDecl:
		return v.evalClosureDecl(tree, n)
	case ast.KindClassDecl, ast.KindInterfaceDecl, ast.KindTraitDecl, ast.KindStructDecl:
		return v.evalTypeDecl(tree, n)
	case ast.KindObjectInit:
		return v.evalObjectInit(ctx, tree, n)
	case ast.KindPropertyAccess:
		return v.evalPropertyAccess(ctx, tree, n)
	case ast.KindStaticProperty:
		return v.evalStaticProperty(tree, n)
	case ast.KindClassConstant:
		return v.evalClassConstant(tree, n)
	case ast.KindMethodCall:
		return v.evalMethodCall(ctx, tree, n)
	case ast.KindStaticCall:
		return v.evalStaticCall(ctx, tree, n)
	case ast.KindCloneWith:
		return v.evalCloneWith(ctx, tree, n)
	case ast.KindTry:
		return v.evalTry(ctx, tree, n)
	case ast.KindThrow:
		return v.evalThrow(ctx, tree, n)
	default:
		return value.Null, rterror.TypeErrorf(n.File, n.Line, "unhandled AST node kind %q", n.Kind)
	}
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func (v *VM) evalLiteral(n *ast.Node) value.Value {
	switch n.LiteralKind {
	case ast.LitNull:
		return value.Null
	case ast.LitBool:
		return value.OfBool(n.BoolValue)
	case ast.LitInt:
		return value.OfInt(int32(n.IntValue))
	case ast.LitFloat:
		return value.OfFloat(n.FloatValue)
	case ast.LitString:
		return v.Mem.NewString([]byte(n.StrValue))
	default:
		return value.Null
	}
}

func (v *VM) frame() *heap.CallFrame { return v.frames[len(v.frames)-1] }

func (v *VM) evalVariable(n *ast.Node) (value.Value, error) {
	val, ok := v.frame().Locals.Get(n.StrValue)
	if !ok {
		return value.Null, rterror.UndefinedVariable(n.StrValue, n.File, n.Line)
	}
	val.Retain(v.Mem)
	return val, nil
}

func (v *VM) evalAssignment(ctx context.Context, tree *ast.Tree, n *ast.Node) (value.Value, error) {
	rhs, err := v.Eval(ctx, tree, n.RHS)
	if err != nil {
		return value.Null, err
	}
	target := tree.Node(n.LHS)
	switch target.Kind {
	case ast.KindVariable:
		v.frame().Locals.Set(target.StrValue, rhs)
		return rhs, nil
	case ast.KindPropertyAccess:
		objVal, err := v.Eval(ctx, tree, target.Target)
		if err != nil {
			rhs.Release(v.Mem)
			return value.Null, err
		}
		if err := v.setProperty(objVal, target.StrValue, rhs, target.File, target.Line); err != nil {
			objVal.Release(v.Mem)
			rhs.Release(v.Mem)
			return value.Null, err
		}
		objVal.Release(v.Mem)
		return rhs, nil
	case ast.KindArrayAccess:
		arrVal, err := v.Eval(ctx, tree, target.Target)
		if err != nil {
			rhs.Release(v.Mem)
			return value.Null, err
		}
		if target.RHS == 0 { // `$a[] = v` appends
			v.Mem.ArrayPush(arrVal.Handle(), rhs)
			arrVal.Release(v.Mem)
			return rhs, nil
		}
		idx, err := v.Eval(ctx, tree, target.RHS)
		if err != nil {
			arrVal.Release(v.Mem)
			rhs.Release(v.Mem)
			return value.Null, err
		}
		key := keyFromValue(v.Mem, idx)
		idx.Release(v.Mem)
		v.Mem.ArraySet(arrVal.Handle(), key, rhs)
		arrVal.Release(v.Mem)
		return rhs, nil
	case ast.KindStaticProperty:
		class, err := v.resolveClassRef(target.ClassName, target.File, target.Line)
		if err != nil {
			rhs.Release(v.Mem)
			return value.Null, err
		}
		v.setStaticProperty(class.Name, target.StrValue, rhs)
		return rhs, nil
	default:
		rhs.Release(v.Mem)
		return value.Null, rterror.TypeErrorf(target.File, target.Line, "invalid assignment target %q", target.Kind)
	}
}

func keyFromValue(mgr value.Allocator, v value.Value) heap.ArrayKey {
	if v.IsInt() {
		return heap.IntArrayKey(int64(v.AsInt()))
	}
	if v.IsString() {
		return heap.StrArrayKey(mgr.ToString(v.PtrTag(), v.Handle()))
	}
	if v.IsBool() {
		if v.AsBool() {
			return heap.IntArrayKey(1)
		}
		return heap.IntArrayKey(0)
	}
	if v.IsFloat() {
		return heap.IntArrayKey(int64(v.AsFloat()))
	}
	return heap.StrArrayKey("")
}

func (v *VM) evalBlock(ctx context.Context, tree *ast.Tree, n *ast.Node) (value.Value, error) {
	for _, child := range n.Children {
		val, err := v.Eval(ctx, tree, child)
		if err != nil {
			return value.Null, err
		}
		val.Release(v.Mem) // statement-position expressions are temporaries
	}
	return value.Null, nil
}

func (v *VM) evalIf(ctx context.Context, tree *ast.Tree, n *ast.Node) (value.Value, error) {
	cond, err := v.Eval(ctx, tree, n.Cond)
	if err != nil {
		return value.Null, err
	}
	truthy := cond.ToBool()
	cond.Release(v.Mem)
	if truthy {
		return v.Eval(ctx, tree, n.Then)
	}
	return v.Eval(ctx, tree, n.Else)
}

func (v *VM) evalWhile(ctx context.Context, tree *ast.Tree, n *ast.Node) (value.Value, error) {
	for {
		cond, err := v.Eval(ctx, tree, n.Cond)
		if err != nil {
			return value.Null, err
		}
		truthy := cond.ToBool()
		cond.Release(v.Mem)
		if !truthy {
			return value.Null, nil
		}
		if _, err := v.Eval(ctx, tree, n.Body); err != nil {
			if stop, werr := unwindLoop(err); stop {
				return value.Null, werr
			} else if werr != nil {
				return value.Null, werr
			}
		}
	}
}

func (v *VM) evalDoWhile(ctx context.Context, tree *ast.Tree, n *ast.Node) (value.Value, error) {
	for {
		if _, err := v.Eval(ctx, tree, n.Body); err != nil {
			if stop, werr := unwindLoop(err); stop {
				return value.Null, werr
			} else if werr != nil {
				return value.Null, werr
			}
		}
		cond, err := v.Eval(ctx, tree, n.Cond)
		if err != nil {
			return value.Null, err
		}
		truthy := cond.ToBool()
		cond.Release(v.Mem)
		if !truthy {
			return value.Null, nil
		}
	}
}

func (v *VM) evalFor(ctx context.Context, tree *ast.Tree, n *ast.Node) (value.Value, error) {
	if n.Init != 0 {
		val, err := v.Eval(ctx, tree, n.Init)
		if err != nil {
			return value.Null, err
		}
		val.Release(v.Mem)
	}
	for {
		if n.Cond != 0 {
			cond, err := v.Eval(ctx, tree, n.Cond)
			if err != nil {
				return value.Null, err
			}
			truthy := cond.ToBool()
			cond.Release(v.Mem)
			if !truthy {
				return value.Null, nil
			}
		}
		if _, err := v.Eval(ctx, tree, n.Body); err != nil {
			if stop, werr := unwindLoop(err); stop {
				return value.Null, werr
			} else if werr != nil {
				return value.Null, werr
			}
		}
		if n.Update != 0 {
			val, err := v.Eval(ctx, tree, n.Update)
			if err != nil {
				return value.Null, err
			}
			val.Release(v.Mem)
		}
	}
}

// evalForeach iterates n.Target (an array), binding each value to the
// variable named by n.StrValue, or, when n.Decl.Params holds two names,
// the key to Params[0] and the value to Params[1], before running n.Body
// each iteration (spec §8 scenario 2).
func (v *VM) evalForeach(ctx context.Context, tree *ast.Tree, n *ast.Node) (value.Value, error) {
	arrVal, err := v.Eval(ctx, tree, n.Target)
	if err != nil {
		return value.Null, err
	}
	defer arrVal.Release(v.Mem)
	if !arrVal.IsArray() {
		return value.Null, rterror.TypeErrorf(n.File, n.Line, "foreach() argument must be an array")
	}
	arr := v.Mem.ArrayAt(arrVal.Handle())

	keyName, valName := "", n.StrValue
	if n.Decl != nil && len(n.Decl.Params) == 2 {
		keyName, valName = n.Decl.Params[0].Name, n.Decl.Params[1].Name
	}

	var loopErr error
	arr.Each(func(k heap.ArrayKey, val value.Value) bool {
		if keyName != "" {
			v.frame().Locals.Set(keyName, v.keyValue(k))
		}
		val.Retain(v.Mem)
		v.frame().Locals.Set(valName, val)
		val.Release(v.Mem)

		if _, err := v.Eval(ctx, tree, n.Body); err != nil {
			stop, werr := unwindLoop(err)
			loopErr = werr
			return !stop && werr == nil
		}
		return true
	})
	return value.Null, loopErr
}

func (v *VM) keyValue(k heap.ArrayKey) value.Value {
	if k.IsString {
		return v.Mem.NewString([]byte(k.StrKey))
	}
	return value.OfInt(int32(k.IntKey))
}

func (v *VM) evalSwitch(ctx context.Context, tree *ast.Tree, n *ast.Node) (value.Value, error) {
	subject, err := v.Eval(ctx, tree, n.Cond)
	if err != nil {
		return value.Null, err
	}
	defer subject.Release(v.Mem)

	matched := false
	for _, caseIdx := range n.Children {
		c := tree.Node(caseIdx)
		if !matched {
			if c.Cond == 0 { // default case
				matched = true
			} else {
				caseVal, err := v.Eval(ctx, tree, c.Cond)
				if err != nil {
					return value.Null, err
				}
				eq := v.looseEquals(subject, caseVal)
				caseVal.Release(v.Mem)
				if eq {
					matched = true
				}
			}
		}
		if matched {
			if _, err := v.Eval(ctx, tree, c.Body); err != nil {
				if brk, ok := err.(signalBreak); ok {
					if brk.N > 1 {
						return value.Null, signalBreak{N: brk.N - 1}
					}
					return value.Null, nil
				}
				return value.Null, err
			}
		}
	}
	return value.Null, nil
}

// unwindLoop interprets err from evaluating a loop body: stop=true
// means the loop must return werr (possibly nil) to its own caller;
// stop=false, werr=nil means "continue the loop normally"; stop=false
// with a non-nil werr never occurs (kept as a three-state return for
// callers that pattern-match both).
func unwindLoop(err error) (stop bool, werr error) {
	switch e := err.(type) {
	case signalBreak:
		if e.N > 1 {
			return true, signalBreak{N: e.N - 1}
		}
		return true, nil
	case signalContinue:
		if e.N > 1 {
			return true, signalContinue{N: e.N - 1}
		}
		return false, nil
	default:
		return true, err
	}
}

func (v *VM) evalArrayInit(ctx context.Context, tree *ast.Tree, n *ast.Node) (value.Value, error) {
	arrVal := v.Mem.NewArrayValue()
	h := arrVal.Handle()
	for _, elIdx := range n.Children {
		el := tree.Node(elIdx)
		val, err := v.Eval(ctx, tree, el.RHS)
		if err != nil {
			arrVal.Release(v.Mem)
			return value.Null, err
		}
		if el.LHS == 0 {
			v.Mem.ArrayPush(h, val)
		} else {
			keyVal, err := v.Eval(ctx, tree, el.LHS)
			if err != nil {
				val.Release(v.Mem)
				arrVal.Release(v.Mem)
				return value.Null, err
			}
			key := keyFromValue(v.Mem, keyVal)
			keyVal.Release(v.Mem)
			v.Mem.ArraySet(h, key, val)
		}
		val.Release(v.Mem) // ArraySet/ArrayPush retained their own copy
	}
	return arrVal, nil
}

func (v *VM) evalArrayAccess(ctx context.Context, tree *ast.Tree, n *ast.Node) (value.Value, error) {
	arrVal, err := v.Eval(ctx, tree, n.Target)
	if err != nil {
		return value.Null, err
	}
	defer arrVal.Release(v.Mem)
	idx, err := v.Eval(ctx, tree, n.RHS)
	if err != nil {
		return value.Null, err
	}
	key := keyFromValue(v.Mem, idx)
	idx.Release(v.Mem)

	if !arrVal.IsArray() {
		return value.Null, rterror.TypeErrorf(n.File, n.Line, "cannot use a scalar value as an array")
	}
	got, ok := v.Mem.ArrayAt(arrVal.Handle()).Get(key)
	if !ok {
		return value.Null, nil // PHP-style: undefined index reads as null with a warning (omitted here)
	}
	got.Retain(v.Mem)
	return got, nil
}

func (v *VM) evalUnary(ctx context.Context, tree *ast.Tree, n *ast.Node) (value.Value, error) {
	operand, err := v.Eval(ctx, tree, n.RHS)
	if err != nil {
		return value.Null, err
	}
	defer operand.Release(v.Mem)
	switch n.StrValue {
	case "!":
		return value.OfBool(!operand.ToBool()), nil
	case "-":
		if operand.IsFloat() {
			return value.OfFloat(-operand.AsFloat()), nil
		}
		return value.OfInt(-operand.AsInt()), nil
	case "+":
		return operand, retainCopy(v, operand)
	default:
		return value.Null, rterror.TypeErrorf(n.File, n.Line, "unknown unary operator %q", n.StrValue)
	}
}

// retainCopy is used when an operand is passed through unchanged; it
// retains the Value again since the caller already holds one temporary
// reference via defer and the result is returned as a second temporary.
func retainCopy(v *VM, val value.Value) error {
	val.Retain(v.Mem)
	return nil
}

func (v *VM) evalTernary(ctx context.Context, tree *ast.Tree, n *ast.Node) (value.Value, error) {
	cond, err := v.Eval(ctx, tree, n.Cond)
	if err != nil {
		return value.Null, err
	}
	truthy := cond.ToBool()
	if n.Then == 0 { // Elvis operator `a ?: b`
		if truthy {
			return cond, nil
		}
		cond.Release(v.Mem)
		return v.Eval(ctx, tree, n.Else)
	}
	cond.Release(v.Mem)
	if truthy {
		return v.Eval(ctx, tree, n.Then)
	}
	return v.Eval(ctx, tree, n.Else)
}

// evalPostfix implements `$x++`/`$x--`, returning the pre-increment
// value per PHP semantics.
func (v *VM) evalPostfix(ctx context.Context, tree *ast.Tree, n *ast.Node) (value.Value, error) {
	target := tree.Node(n.LHS)
	if target.Kind != ast.KindVariable {
		return value.Null, rterror.TypeErrorf(n.File, n.Line, "postfix operator requires a variable operand")
	}
	old, ok := v.frame().Locals.Get(target.StrValue)
	if !ok {
		return value.Null, rterror.UndefinedVariable(target.StrValue, n.File, n.Line)
	}
	var updated value.Value
	delta := int32(1)
	if n.StrValue == "--" {
		delta = -1
	}
	if old.IsFloat() {
		df := float64(delta)
		updated = value.OfFloat(old.AsFloat() + df)
	} else {
		updated = value.OfInt(old.AsInt() + delta)
	}
	old.Retain(v.Mem) // the returned pre-increment copy
	v.frame().Locals.Set(target.StrValue, updated)
	return old, nil
}

// evalPipe implements the `|>` pipe operator: `a |> f` evaluates to
// `f(a)`.
func (v *VM) evalPipe(ctx context.Context, tree *ast.Tree, n *ast.Node) (value.Value, error) {
	lhs, err := v.Eval(ctx, tree, n.LHS)
	if err != nil {
		return value.Null, err
	}
	callee, err := v.Eval(ctx, tree, n.RHS)
	if err != nil {
		lhs.Release(v.Mem)
		return value.Null, err
	}
	defer callee.Release(v.Mem)
	return v.callCallable(ctx, callee, []value.Value{lhs}, n.File, n.Line)
}

func (v *VM) evalBinary(ctx context.Context, tree *ast.Tree, n *ast.Node) (value.Value, error) {
	lhs, err := v.Eval(ctx, tree, n.LHS)
	if err != nil {
		return value.Null, err
	}
	defer lhs.Release(v.Mem)

	// Short-circuit operators must not evaluate RHS eagerly.
	switch n.StrValue {
	case "&&", "and":
		if !lhs.ToBool() {
			return value.False, nil
		}
		rhs, err := v.Eval(ctx, tree, n.RHS)
		if err != nil {
			return value.Null, err
		}
		defer rhs.Release(v.Mem)
		return value.OfBool(rhs.ToBool()), nil
	case "||", "or":
		if lhs.ToBool() {
			return value.True, nil
		}
		rhs, err := v.Eval(ctx, tree, n.RHS)
		if err != nil {
			return value.Null, err
		}
		defer rhs.Release(v.Mem)
		return value.OfBool(rhs.ToBool()), nil
	case "??":
		if !lhs.IsNull() {
			lhs.Retain(v.Mem)
			return lhs, nil
		}
		return v.Eval(ctx, tree, n.RHS)
	}

	rhs, err := v.Eval(ctx, tree, n.RHS)
	if err != nil {
		return value.Null, err
	}
	defer rhs.Release(v.Mem)

	return v.applyBinaryOp(n.StrValue, lhs, rhs, n.File, n.Line)
}

// applyBinaryOp follows the promotion table of spec §4.4: int⊕int ->
// int, int⊕float/float⊕float -> float, string `.` string -> string,
// comparisons coerce per Value.Equals/numeric rules.
func (v *VM) applyBinaryOp(op string, lhs, rhs value.Value, file string, line int) (value.Value, error) {
	switch op {
	case ".":
		return v.Mem.NewString([]byte(lhs.ToString(v.Mem) + rhs.ToString(v.Mem))), nil
	case "==":
		return value.OfBool(v.looseEquals(lhs, rhs)), nil
	case "!=", "<>":
		return value.OfBool(!v.looseEquals(lhs, rhs)), nil
	case "===":
		return value.OfBool(lhs.Identical(rhs)), nil
	case "!==":
		return value.OfBool(!lhs.Identical(rhs)), nil
	}

	if !lhs.IsNumber() || !rhs.IsNumber() {
		switch op {
		case "<", "<=", ">", ">=":
			// fall through to numeric coercion below for scalars; a
			// non-numeric operand coerces via ToString→numeric in real
			// PHP. This runtime keeps the simpler numeric-only path.
		default:
			return value.Null, rterror.TypeErrorf(file, line, "unsupported operand types for %q", op)
		}
	}

	useFloat := lhs.IsFloat() || rhs.IsFloat()
	lf, rf := numericOf(lhs), numericOf(rhs)

	switch op {
	case "<":
		return value.OfBool(lf < rf), nil
	case "<=":
		return value.OfBool(lf <= rf), nil
	case ">":
		return value.OfBool(lf > rf), nil
	case ">=":
		return value.OfBool(lf >= rf), nil
	case "<=>":
		switch {
		case lf < rf:
			return value.OfInt(-1), nil
		case lf > rf:
			return value.OfInt(1), nil
		default:
			return value.OfInt(0), nil
		}
	}

	if op == "/" {
		if rf == 0 {
			return value.Null, rterror.DivisionByZero(file, line)
		}
		res := lf / rf
		if !useFloat && res == math.Trunc(res) {
			return value.OfInt(int32(res)), nil
		}
		return value.OfFloat(res), nil
	}
	if op == "%" {
		if int64(rf) == 0 {
			return value.Null, rterror.DivisionByZero(file, line)
		}
		return value.OfInt(int32(int64(lf) % int64(rf))), nil
	}

	var res float64
	switch op {
	case "+":
		res = lf + rf
	case "-":
		res = lf - rf
	case "*":
		res = lf * rf
	case "**":
		res = math.Pow(lf, rf)
	default:
		return value.Null, rterror.TypeErrorf(file, line, "unknown binary operator %q", op)
	}
	if useFloat {
		return value.OfFloat(res), nil
	}
	return value.OfInt(int32(res)), nil
}

// looseEquals implements `==`'s content comparison for strings (two
// distinct String boxes with the same bytes compare equal) on top of
// value.Value.Equals' scalar/identity-only table (spec §4.1 "loose
// equality needs box contents for strings/arrays, resolved one layer up
// from the value package").
func (v *VM) looseEquals(a, b value.Value) bool {
	if a.IsString() && b.IsString() {
		return v.Mem.StringAt(a.Handle()).String() == v.Mem.StringAt(b.Handle()).String()
	}
	if a.IsString() && b.IsNumber() || a.IsNumber() && b.IsString() {
		return numericOf(v.coerceNumeric(a)) == numericOf(v.coerceNumeric(b))
	}
	return a.Equals(b)
}

// coerceNumeric returns v unchanged for scalars, or an int/float Value
// parsed from a string's leading numeric prefix (0 if none) — PHP's
// numeric-string coercion for loose `==` against a number.
func (v *VM) coerceNumeric(val value.Value) value.Value {
	if !val.IsString() {
		return val
	}
	s := v.Mem.StringAt(val.Handle()).String()
	var f float64
	fmt.Sscanf(s, "%g", &f)
	return value.OfFloat(f)
}

func numericOf(v value.Value) float64 {
	if v.IsInt() {
		return float64(v.AsInt())
	}
	if v.IsFloat() {
		return v.AsFloat()
	}
	if v.ToBool() {
		return 1
	}
	return 0
}
