package phprt

import (
	"bytes"
	"testing"

	"github.com/corewell/phprt/pkg/ast"
)

// TestRuntimeRunEchoesLiteral exercises the top-level embedding API
// end to end: New, WithOutput, Run.
func TestRuntimeRunEchoesLiteral(t *testing.T) {
	var out bytes.Buffer
	rt := New(WithOutput(&out))

	nodes := make([]ast.Node, 1)
	lit := ast.Node{Kind: ast.KindLiteral, LiteralKind: ast.LitString, StrValue: "hello"}
	nodes = append(nodes, lit) // 1
	echo := ast.Node{Kind: ast.KindFunctionCall, StrValue: "echo", Children: []ast.NodeIndex{1}}
	nodes = append(nodes, echo) // 2
	block := ast.Node{Kind: ast.KindBlock, Children: []ast.NodeIndex{2}}
	nodes = append(nodes, block) // 3

	tree := &ast.Tree{Nodes: nodes, Root: ast.NodeIndex(len(nodes) - 1)}
	if err := rt.Run(tree); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "hello" {
		t.Fatalf("output = %q, want %q", out.String(), "hello")
	}
}

// TestRuntimeWithConcurrencyRegistersBuiltins checks that
// WithConcurrency makes the coroutine/channel/mutex catalogue callable
// from a script (mutex_new should no longer be an undefined function).
func TestRuntimeWithConcurrencyRegistersBuiltins(t *testing.T) {
	var out bytes.Buffer
	rt := New(WithOutput(&out)).WithConcurrency()

	nodes := make([]ast.Node, 1)
	mVar := ast.Node{Kind: ast.KindVariable, StrValue: "m"}
	nodes = append(nodes, mVar) // 1
	newCall := ast.Node{Kind: ast.KindFunctionCall, StrValue: "mutex_new"}
	nodes = append(nodes, newCall) // 2
	assign := ast.Node{Kind: ast.KindAssignment, LHS: 1, RHS: 2}
	nodes = append(nodes, assign) // 3
	tryCall := ast.Node{Kind: ast.KindFunctionCall, StrValue: "mutex_try_lock", Children: []ast.NodeIndex{1}}
	nodes = append(nodes, tryCall) // 4
	echo := ast.Node{Kind: ast.KindFunctionCall, StrValue: "echo", Children: []ast.NodeIndex{4}}
	nodes = append(nodes, echo) // 5
	block := ast.Node{Kind: ast.KindBlock, Children: []ast.NodeIndex{3, 5}}
	nodes = append(nodes, block) // 6

	tree := &ast.Tree{Nodes: nodes, Root: ast.NodeIndex(len(nodes) - 1)}
	if err := rt.Run(tree); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "1" {
		t.Fatalf("output = %q, want %q (mutex_try_lock on a fresh mutex)", out.String(), "1")
	}
}
