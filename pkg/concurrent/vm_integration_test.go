package concurrent

import (
	"bytes"
	"testing"

	"github.com/corewell/phprt/pkg/ast"
	"github.com/corewell/phprt/pkg/memory"
	"github.com/corewell/phprt/pkg/object"
	"github.com/corewell/phprt/pkg/vm"
)

// TestMutexBuiltinsFromScript exercises Register's native-function
// catalogue the way a PHP script would reach it: mutex_new, mutex_lock,
// mutex_try_lock, mutex_unlock called in sequence, echoing try_lock's
// result before and after the lock is released.
func TestMutexBuiltinsFromScript(t *testing.T) {
	mgr := memory.NewManager(nil)
	reg := object.NewRegistry()
	var out bytes.Buffer
	m := vm.New(mgr, reg, vm.WithOutput(&out))
	Register(m)

	nodes := make([]ast.Node, 1)
	mVar := ast.Node{Kind: ast.KindVariable, StrValue: "m"}
	nodes = append(nodes, mVar) // 1
	newCall := ast.Node{Kind: ast.KindFunctionCall, StrValue: "mutex_new"}
	nodes = append(nodes, newCall) // 2
	assign := ast.Node{Kind: ast.KindAssignment, LHS: 1, RHS: 2}
	nodes = append(nodes, assign) // 3

	lockCall := ast.Node{Kind: ast.KindFunctionCall, StrValue: "mutex_lock", Children: []ast.NodeIndex{1}}
	nodes = append(nodes, lockCall) // 4

	tryCall1 := ast.Node{Kind: ast.KindFunctionCall, StrValue: "mutex_try_lock", Children: []ast.NodeIndex{1}}
	nodes = append(nodes, tryCall1) // 5
	echo1 := ast.Node{Kind: ast.KindFunctionCall, StrValue: "echo", Children: []ast.NodeIndex{5}}
	nodes = append(nodes, echo1) // 6

	unlockCall := ast.Node{Kind: ast.KindFunctionCall, StrValue: "mutex_unlock", Children: []ast.NodeIndex{1}}
	nodes = append(nodes, unlockCall) // 7

	tryCall2 := ast.Node{Kind: ast.KindFunctionCall, StrValue: "mutex_try_lock", Children: []ast.NodeIndex{1}}
	nodes = append(nodes, tryCall2) // 8
	echo2 := ast.Node{Kind: ast.KindFunctionCall, StrValue: "echo", Children: []ast.NodeIndex{8}}
	nodes = append(nodes, echo2) // 9

	block := ast.Node{Kind: ast.KindBlock, Children: []ast.NodeIndex{3, 4, 6, 7, 9}}
	nodes = append(nodes, block) // 10

	tree := &ast.Tree{Nodes: nodes, Root: ast.NodeIndex(len(nodes) - 1)}
	if err := m.Run(tree); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// try_lock while held echoes false ("") then, after unlock, true ("1").
	if got := out.String(); got != "1" {
		t.Fatalf("mutex script output = %q, want %q", got, "1")
	}
}
