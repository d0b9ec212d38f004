package stdlib

import (
	"bytes"
	"testing"

	"github.com/corewell/phprt/pkg/ast"
	"github.com/corewell/phprt/pkg/memory"
	"github.com/corewell/phprt/pkg/object"
	"github.com/corewell/phprt/pkg/vm"
)

func newMachine(t *testing.T, out *bytes.Buffer) *vm.VM {
	t.Helper()
	mgr := memory.NewManager(nil)
	reg := object.NewRegistry()
	m := vm.New(mgr, reg, vm.WithOutput(out))
	Register(m)
	return m
}

// runEcho builds `echo fnName(args...);` as a tiny AST and runs it.
func runEcho(t *testing.T, fnName string, argNodes ...ast.Node) string {
	t.Helper()
	nodes := make([]ast.Node, 1, len(argNodes)+3)
	children := make([]ast.NodeIndex, 0, len(argNodes))
	for _, n := range argNodes {
		nodes = append(nodes, n)
		children = append(children, ast.NodeIndex(len(nodes)-1))
	}
	call := ast.Node{Kind: ast.KindFunctionCall, StrValue: fnName, Children: children}
	nodes = append(nodes, call)
	callIdx := ast.NodeIndex(len(nodes) - 1)
	echo := ast.Node{Kind: ast.KindFunctionCall, StrValue: "echo", Children: []ast.NodeIndex{callIdx}}
	nodes = append(nodes, echo)
	tree := &ast.Tree{Nodes: nodes, Root: ast.NodeIndex(len(nodes) - 1)}

	var out bytes.Buffer
	m := newMachine(t, &out)
	if err := m.Run(tree); err != nil {
		t.Fatalf("Run(%s): %v", fnName, err)
	}
	return out.String()
}

func strLit(s string) ast.Node {
	return ast.Node{Kind: ast.KindLiteral, LiteralKind: ast.LitString, StrValue: s}
}

func intLit(i int64) ast.Node {
	return ast.Node{Kind: ast.KindLiteral, LiteralKind: ast.LitInt, IntValue: i}
}

func TestStrlen(t *testing.T) {
	if got := runEcho(t, "strlen", strLit("hello")); got != "5" {
		t.Fatalf("strlen = %q, want %q", got, "5")
	}
}

func TestStrtoupper(t *testing.T) {
	if got := runEcho(t, "strtoupper", strLit("abc")); got != "ABC" {
		t.Fatalf("strtoupper = %q, want %q", got, "ABC")
	}
}

func TestAbsAndMax(t *testing.T) {
	if got := runEcho(t, "abs", intLit(-7)); got != "7" {
		t.Fatalf("abs = %q, want %q", got, "7")
	}
	if got := runEcho(t, "max", intLit(3), intLit(9), intLit(5)); got != "9" {
		t.Fatalf("max = %q, want %q", got, "9")
	}
}

func TestGettype(t *testing.T) {
	if got := runEcho(t, "gettype", strLit("x")); got != "string" {
		t.Fatalf("gettype(string) = %q, want %q", got, "string")
	}
	if got := runEcho(t, "gettype", intLit(1)); got != "integer" {
		t.Fatalf("gettype(int) = %q, want %q", got, "integer")
	}
}

// TestArrayCountAndPush exercises an array literal built directly
// through the array_init/array_push pair, since stdlib's array
// functions operate on already-materialized array Values.
func TestArrayCountAndPush(t *testing.T) {
	var out bytes.Buffer
	m := newMachine(t, &out)

	nodes := make([]ast.Node, 2)
	nodes[1] = ast.Node{Kind: ast.KindArrayInit}
	arrVar := ast.Node{Kind: ast.KindVariable, StrValue: "a"}
	nodes = append(nodes, arrVar) // 2
	assign := ast.Node{Kind: ast.KindAssignment, LHS: 2, RHS: 1}
	nodes = append(nodes, assign) // 3
	push := ast.Node{Kind: ast.KindFunctionCall, StrValue: "array_push", Children: []ast.NodeIndex{2, 4, 5}}
	nodes = append(nodes, intLit(10)) // 4
	nodes = append(nodes, intLit(20)) // 5
	nodes = append(nodes, push)       // 6
	countCall := ast.Node{Kind: ast.KindFunctionCall, StrValue: "count", Children: []ast.NodeIndex{2}}
	nodes = append(nodes, countCall) // 7
	echo := ast.Node{Kind: ast.KindFunctionCall, StrValue: "echo", Children: []ast.NodeIndex{7}}
	nodes = append(nodes, echo) // 8
	block := ast.Node{Kind: ast.KindBlock, Children: []ast.NodeIndex{3, 6, 8}}
	nodes = append(nodes, block) // 9

	tree := &ast.Tree{Nodes: nodes, Root: ast.NodeIndex(len(nodes) - 1)}
	if err := m.Run(tree); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := out.String(); got != "2" {
		t.Fatalf("count after two pushes = %q, want %q", got, "2")
	}
}
