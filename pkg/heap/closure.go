package heap

import "github.com/corewell/phprt/pkg/value"

// FunctionKind distinguishes a Closure declared with `function(){}` from
// one declared with arrow syntax; the value-layer pointer tag for both
// is PtrClosure (spec §3 lists exactly eight pointer categories, with no
// separate arrow-function tag — ArrowFunction is "like closure" and
// shares the tag, differing only in how captures are computed at
// creation time).
type FunctionKind uint8

const (
	KindClosure FunctionKind = iota
	KindArrow
)

// CaptureMode selects by-value or by-reference capture for one variable.
type CaptureMode uint8

const (
	ByValue CaptureMode = iota
	ByReference
)

// Capture is one captured-variable binding.
type Capture struct {
	Name string
	Mode CaptureMode
	// Value holds the captured value for ByValue captures.
	Value value.Value
	// Cell is non-nil for ByReference captures: it aliases the enclosing
	// frame's binding cell so mutations are visible on both sides until
	// one side outlives the other (spec §3 "design requirement: copy-on-
	// escape or box the cell" — this runtime boxes the cell).
	Cell *value.Value
}

// Closure is a user-function plus its captured-variable map, an
// optional bound receiver, and an optional scope class for `self`/
// `parent::` resolution inside the closure body (spec §3).
type Closure struct {
	Header
	Kind     FunctionKind
	Function value.Value // PtrUserFunction Value
	Captures []Capture
	// Receiver is the bound `$this`, or value.Null if unbound (static
	// closure).
	Receiver value.Value
	ScopeClass ClassID
}

// Lookup returns the captured cell for name, or nil if not captured.
func (c *Closure) Lookup(name string) *Capture {
	for i := range c.Captures {
		if c.Captures[i].Name == name {
			return &c.Captures[i]
		}
	}
	return nil
}
