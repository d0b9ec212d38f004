package vm

import (
	"bytes"
	"context"
	"testing"

	"github.com/corewell/phprt/pkg/ast"
	"github.com/corewell/phprt/pkg/heap"
	"github.com/corewell/phprt/pkg/memory"
	"github.com/corewell/phprt/pkg/object"
	"github.com/corewell/phprt/pkg/value"
)

func lit(kind ast.LiteralKind, i int64, f float64, s string, b bool) ast.Node {
	return ast.Node{Kind: ast.KindLiteral, LiteralKind: kind, IntValue: i, FloatValue: f, StrValue: s, BoolValue: b}
}

func intLit(i int64) ast.Node { return lit(ast.LitInt, i, 0, "", false) }

// TestArithmeticAndEcho covers spec §8 scenario 1: `echo 1 + 2 * 3;`.
func TestArithmeticAndEcho(t *testing.T) {
	nodes := make([]ast.Node, 7)
	nodes[1] = intLit(1)
	nodes[2] = intLit(2)
	nodes[3] = intLit(3)
	nodes[4] = ast.Node{Kind: ast.KindBinary, StrValue: "*", LHS: 2, RHS: 3}
	nodes[5] = ast.Node{Kind: ast.KindBinary, StrValue: "+", LHS: 1, RHS: 4}
	nodes[6] = ast.Node{Kind: ast.KindFunctionCall, StrValue: "echo", Children: []ast.NodeIndex{5}}
	tree := &ast.Tree{Nodes: nodes, Root: 6}

	mgr := memory.NewManager(nil)
	reg := object.NewRegistry()
	var out bytes.Buffer
	machine := New(mgr, reg, WithOutput(&out))

	if err := machine.Run(tree); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := out.String(); got != "7" {
		t.Fatalf("output = %q, want %q", got, "7")
	}
}

// TestForeachSum covers spec §8 scenario 2: summing an array literal via
// foreach and echoing the total.
func TestForeachSum(t *testing.T) {
	nodes := make([]ast.Node, 12)
	// array literal [10, 20, 30]
	nodes[1] = intLit(10)
	nodes[2] = ast.Node{RHS: 1} // one "element" node wrapping RHS=literal (no key)
	nodes[3] = intLit(20)
	nodes[4] = ast.Node{RHS: 3}
	nodes[5] = intLit(30)
	nodes[6] = ast.Node{RHS: 5}
	nodes[7] = ast.Node{Kind: ast.KindArrayInit, Children: []ast.NodeIndex{2, 4, 6}}

	// $total = 0
	nodes[8] = intLit(0)
	// assignment target `$total`
	totalVar := ast.Node{Kind: ast.KindVariable, StrValue: "total"}
	nodes = append(nodes, totalVar) // index 12
	nodes[9] = ast.Node{Kind: ast.KindAssignment, LHS: 12, RHS: 8}

	// foreach ($arr as $v) { $total = $total + $v; }
	sumExpr := ast.Node{Kind: ast.KindBinary, StrValue: "+", LHS: 12, RHS: 14}
	nodes = append(nodes, sumExpr) // index 13
	vVar := ast.Node{Kind: ast.KindVariable, StrValue: "v"}
	nodes = append(nodes, vVar) // index 14
	assignBack := ast.Node{Kind: ast.KindAssignment, LHS: 12, RHS: 13}
	nodes = append(nodes, assignBack) // index 15
	body := ast.Node{Kind: ast.KindBlock, Children: []ast.NodeIndex{15}}
	nodes = append(nodes, body) // index 16
	foreachNode := ast.Node{Kind: ast.KindForeach, Target: 7, StrValue: "v", Body: 16}
	nodes = append(nodes, foreachNode) // index 17

	echoTotal := ast.Node{Kind: ast.KindFunctionCall, StrValue: "echo", Children: []ast.NodeIndex{12}}
	nodes = append(nodes, echoTotal) // index 18

	block := ast.Node{Kind: ast.KindBlock, Children: []ast.NodeIndex{9, 17, 18}}
	nodes = append(nodes, block) // index 19

	tree := &ast.Tree{Nodes: nodes, Root: ast.NodeIndex(len(nodes) - 1)}

	mgr := memory.NewManager(nil)
	reg := object.NewRegistry()
	var out bytes.Buffer
	machine := New(mgr, reg, WithOutput(&out))

	if err := machine.Run(tree); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := out.String(); got != "60" {
		t.Fatalf("output = %q, want %q", got, "60")
	}
}

// TestCallWithOmittedDefaultArgument covers function calls where a
// trailing parameter's default expression must be evaluated, not
// silently bound to null: `function f($a, $b = 5) { echo $a + $b; }`
// called as `f(1)` must echo "6".
func TestCallWithOmittedDefaultArgument(t *testing.T) {
	nodes := make([]ast.Node, 1)

	defaultLit := intLit(5)
	nodes = append(nodes, defaultLit) // 1: default expression for $b

	aVar := ast.Node{Kind: ast.KindVariable, StrValue: "a"}
	nodes = append(nodes, aVar) // 2
	bVar := ast.Node{Kind: ast.KindVariable, StrValue: "b"}
	nodes = append(nodes, bVar) // 3
	sum := ast.Node{Kind: ast.KindBinary, StrValue: "+", LHS: 2, RHS: 3}
	nodes = append(nodes, sum) // 4
	echoSum := ast.Node{Kind: ast.KindFunctionCall, StrValue: "echo", Children: []ast.NodeIndex{4}}
	nodes = append(nodes, echoSum) // 5
	fnBody := ast.Node{Kind: ast.KindBlock, Children: []ast.NodeIndex{5}}
	nodes = append(nodes, fnBody) // 6

	fnDecl := ast.Node{
		Kind: ast.KindFunctionDecl,
		Body: 6,
		Decl: &ast.DeclInfo{
			Name:    "f",
			Params:  []ast.ParamDecl{{Name: "a"}, {Name: "b", Default: 1}},
			MinArgs: 1, MaxArgs: 2,
		},
	}
	nodes = append(nodes, fnDecl) // 7

	callArg := intLit(1)
	nodes = append(nodes, callArg) // 8
	call := ast.Node{Kind: ast.KindFunctionCall, StrValue: "f", Children: []ast.NodeIndex{8}}
	nodes = append(nodes, call) // 9

	block := ast.Node{Kind: ast.KindBlock, Children: []ast.NodeIndex{7, 9}}
	nodes = append(nodes, block) // 10

	tree := &ast.Tree{Nodes: nodes, Root: ast.NodeIndex(len(nodes) - 1)}

	mgr := memory.NewManager(nil)
	reg := object.NewRegistry()
	var out bytes.Buffer
	machine := New(mgr, reg, WithOutput(&out))

	if err := machine.Run(tree); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := out.String(); got != "6" {
		t.Fatalf("output = %q, want %q (omitted $b should default to 5)", got, "6")
	}
}

// TestTryFinallyOrdering covers spec §8 scenario 4: a finally block runs
// even when the try block throws, and prints before the exception
// propagates out of Run uncaught.
func TestTryFinallyOrdering(t *testing.T) {
	mgr := memory.NewManager(nil)
	reg := object.NewRegistry()

	exClass, err := reg.DefineClass(object.ClassSpec{Name: "BoomException"})
	if err != nil {
		t.Fatalf("DefineClass: %v", err)
	}
	_ = exClass

	nodes := make([]ast.Node, 6)
	nodes[1] = ast.Node{Kind: ast.KindObjectInit, ClassName: "BoomException"}
	nodes[2] = ast.Node{Kind: ast.KindThrow, Body: 1}
	tryBody := ast.Node{Kind: ast.KindBlock, Children: []ast.NodeIndex{2}}
	nodes = append(nodes, tryBody) // index 6

	nodes[3] = intLit(0)
	finallyEcho := ast.Node{Kind: ast.KindFunctionCall, StrValue: "echo", Children: []ast.NodeIndex{3}}
	nodes = append(nodes, finallyEcho) // index 7: echoes "0", proving the finally block ran
	finallyBlock := ast.Node{Kind: ast.KindBlock, Children: []ast.NodeIndex{7}}
	nodes = append(nodes, finallyBlock) // index 8

	tryNode := ast.Node{Kind: ast.KindTry, Body: 6, Finally: 8}
	nodes = append(nodes, tryNode) // index 9

	tree := &ast.Tree{Nodes: nodes, Root: ast.NodeIndex(len(nodes) - 1)}

	var out bytes.Buffer
	machine := New(mgr, reg, WithOutput(&out))
	err = machine.Run(tree)
	if err == nil {
		t.Fatal("expected the uncaught BoomException to propagate from Run")
	}
	if got := out.String(); got != "0" {
		t.Fatalf("output = %q, want %q from the finally block", got, "0")
	}
}

// TestClassPropertyAndMethodAccess exercises hidden-shape property
// storage and method dispatch without routing a class_decl through the
// evaluator (the class is registered directly, as pkg/vm's own
// evalTypeDecl would do after parsing one).
func TestClassPropertyAndMethodAccess(t *testing.T) {
	mgr := memory.NewManager(nil)
	reg := object.NewRegistry()

	greet := heap.UserFunction{
		Name:   "greet",
		Tree:   nil,
		MinArgs: 0, MaxArgs: 0,
	}
	// greet() { return $this->name; }
	greetNodes := []ast.Node{
		{}, // reserved
		{Kind: ast.KindVariable, StrValue: "this"},
		{Kind: ast.KindPropertyAccess, Target: 1, StrValue: "name"},
		{Kind: ast.KindReturn, Body: 2},
	}
	greetTree := &ast.Tree{Nodes: greetNodes, Root: 3}
	greet.Tree = greetTree
	greet.Body = 3

	greetFn := mgr.NewUserFunctionValue(greet)

	cid, err := reg.DefineClass(object.ClassSpec{
		Name: "Greeter",
		Properties: []object.PropertyDecl{
			{Name: "name", Default: value.Null},
		},
		Methods: []object.MethodDecl{
			{Name: "greet", Fn: greetFn},
		},
	})
	if err != nil {
		t.Fatalf("DefineClass: %v", err)
	}
	class := reg.ClassByID(cid)
	inst, err := object.NewInstance(mgr, class)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	nameVal := mgr.NewString([]byte("Ada"))
	object.SetProperty(mgr, reg, inst.Handle(), "name", nameVal)
	nameVal.Release(mgr)

	machine := New(mgr, reg)
	m, _ := class.ResolveMethod("greet")
	result, err := machine.invokeMethod(context.Background(), class, m, inst, nil, cid)
	if err != nil {
		t.Fatalf("invokeMethod: %v", err)
	}
	if got := result.ToString(mgr); got != "Ada" {
		t.Fatalf("greet() = %q, want %q", got, "Ada")
	}
	result.Release(mgr)
	inst.Release(mgr)
}
