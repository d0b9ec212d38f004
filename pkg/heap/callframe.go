package heap

import "github.com/corewell/phprt/pkg/value"

// CallFrame is one entry on the evaluator's call-frame stack: function
// identity for stack traces plus the local-bindings Environment (spec
// §3). Pushed on call, popped on return; popping destroys Locals.
type CallFrame struct {
	FunctionName string
	File         string
	Line         int
	Locals       *Environment

	// ReturnSlot holds the pending return value while a Return control
	// signal unwinds through nested blocks (spec §4.4).
	ReturnSlot value.Value
}

// NewCallFrame returns a frame with a fresh, empty Environment.
func NewCallFrame(fn, file string, line int, alloc value.Allocator) *CallFrame {
	return &CallFrame{FunctionName: fn, File: file, Line: line, Locals: NewEnvironment(alloc)}
}

// Pop releases every local binding. Must be called exactly once, when
// the frame leaves the call stack.
func (f *CallFrame) Pop() {
	f.Locals.Destroy()
}
