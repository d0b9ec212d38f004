package httpserver

import (
	"context"
	"testing"

	"github.com/corewell/phprt/pkg/ast"
	"github.com/corewell/phprt/pkg/memory"
	"github.com/corewell/phprt/pkg/object"
	"github.com/corewell/phprt/pkg/vm"
)

// TestBridgeHandlerSetsResponse defines a PHP closure as the route
// handler (`function($req, $res) { $res->status = 201; }`) and checks
// that the Bridge copies its property writes back onto the
// RequestContext Go-side.
func TestBridgeHandlerSetsResponse(t *testing.T) {
	mgr := memory.NewManager(nil)
	reg := object.NewRegistry()
	m := vm.New(mgr, reg)

	bridge, err := NewBridge(m, reg)
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}

	// function($req, $res) { $res->status = 201; $res->body = "ok"; }
	nodes := make([]ast.Node, 1)
	resVar := ast.Node{Kind: ast.KindVariable, StrValue: "res"}
	nodes = append(nodes, resVar) // 1
	statusLit := ast.Node{Kind: ast.KindLiteral, LiteralKind: ast.LitInt, IntValue: 201}
	nodes = append(nodes, statusLit) // 2
	setStatus := ast.Node{Kind: ast.KindPropertyAccess, Target: 1, StrValue: "status"}
	nodes = append(nodes, setStatus) // 3
	assignStatus := ast.Node{Kind: ast.KindAssignment, LHS: 3, RHS: 2}
	nodes = append(nodes, assignStatus) // 4

	bodyLit := ast.Node{Kind: ast.KindLiteral, LiteralKind: ast.LitString, StrValue: "ok"}
	nodes = append(nodes, bodyLit) // 5
	setBody := ast.Node{Kind: ast.KindPropertyAccess, Target: 1, StrValue: "body"}
	nodes = append(nodes, setBody) // 6
	assignBody := ast.Node{Kind: ast.KindAssignment, LHS: 6, RHS: 5}
	nodes = append(nodes, assignBody) // 7

	body := ast.Node{Kind: ast.KindBlock, Children: []ast.NodeIndex{4, 7}}
	nodes = append(nodes, body) // 8

	decl := ast.Node{
		Kind: ast.KindClosureDecl,
		Body: ast.NodeIndex(len(nodes) - 1),
		Decl: &ast.DeclInfo{
			Params:  []ast.ParamDecl{{Name: "req"}, {Name: "res"}},
			MinArgs: 2, MaxArgs: 2,
		},
	}
	nodes = append(nodes, decl) // 9

	tree := &ast.Tree{Nodes: nodes, Root: ast.NodeIndex(len(nodes) - 1)}
	closureVal, err := m.Eval(context.Background(), tree, tree.Root)
	if err != nil {
		t.Fatalf("Eval closure decl: %v", err)
	}

	handler := bridge.Handler(closureVal)
	ctx := &RequestContext{Method: "GET", Path: "/x", Headers: map[string]string{}, Query: map[string]string{}, Params: map[string]string{}}
	if err := handler(ctx); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if ctx.StatusCode != 201 {
		t.Fatalf("StatusCode = %d, want 201", ctx.StatusCode)
	}
	if string(ctx.ResponseBody) != "ok" {
		t.Fatalf("ResponseBody = %q, want %q", ctx.ResponseBody, "ok")
	}
}
