package heap

import "github.com/corewell/phprt/pkg/value"

// Environment is a string-keyed map of value.Value. Entries retain their
// values on insert and release prior values on replace (spec §3), so
// callers never need to manage refcounts directly through Set/Delete.
type Environment struct {
	vars  map[string]value.Value
	cells map[string]*value.Value // present only for by-reference bindings (closures, foreach-by-ref)
	alloc value.Allocator
}

// NewEnvironment returns an empty Environment backed by alloc for
// retain/release bookkeeping.
func NewEnvironment(alloc value.Allocator) *Environment {
	return &Environment{vars: make(map[string]value.Value), alloc: alloc}
}

// Get returns the binding for name, or value.Null with ok=false.
func (e *Environment) Get(name string) (value.Value, bool) {
	if cell, ok := e.cells[name]; ok {
		return *cell, true
	}
	v, ok := e.vars[name]
	return v, ok
}

// Set retains v, releases any prior binding for name, and installs v.
// If name is currently a by-reference binding, the write goes through
// the shared cell instead of rebinding name locally.
func (e *Environment) Set(name string, v value.Value) {
	if cell, ok := e.cells[name]; ok {
		old := *cell
		old.Release(e.alloc)
		v.Retain(e.alloc)
		*cell = v
		return
	}
	if old, ok := e.vars[name]; ok {
		old.Release(e.alloc)
	}
	v.Retain(e.alloc)
	e.vars[name] = v
}

// Delete releases and removes the binding for name, if any.
func (e *Environment) Delete(name string) {
	if cell, ok := e.cells[name]; ok {
		cell.Release(e.alloc)
		delete(e.cells, name)
		return
	}
	if old, ok := e.vars[name]; ok {
		old.Release(e.alloc)
		delete(e.vars, name)
	}
}

// Has reports whether name is currently bound.
func (e *Environment) Has(name string) bool {
	if _, ok := e.cells[name]; ok {
		return true
	}
	_, ok := e.vars[name]
	return ok
}

// Names returns the currently bound variable names in unspecified order.
func (e *Environment) Names() []string {
	out := make([]string, 0, len(e.vars)+len(e.cells))
	for k := range e.vars {
		out = append(out, k)
	}
	for k := range e.cells {
		out = append(out, k)
	}
	return out
}

// Destroy releases every binding; called when a CallFrame is popped
// (spec §3 "destruction releases all local values").
func (e *Environment) Destroy() {
	for name, v := range e.vars {
		v.Release(e.alloc)
		delete(e.vars, name)
	}
	for name, cell := range e.cells {
		cell.Release(e.alloc)
		delete(e.cells, name)
	}
}

// Cell promotes name to a by-reference binding and returns the shared
// cell, converting an existing plain binding in place (the retained
// value moves from vars into the cell, ownership unchanged) so closures
// and foreach-by-ref can alias a caller's variable (spec §3 "design
// requirement: copy-on-escape or box the cell" — this runtime boxes the
// cell on first capture).
func (e *Environment) Cell(name string) *value.Value {
	if e.cells == nil {
		e.cells = make(map[string]*value.Value)
	}
	if cell, ok := e.cells[name]; ok {
		return cell
	}
	v, ok := e.vars[name]
	if !ok {
		v = value.Null
	}
	delete(e.vars, name)
	cell := new(value.Value)
	*cell = v
	e.cells[name] = cell
	return cell
}

// Bind installs cell as name's binding directly, sharing ownership of
// the cell with whatever other Environment already holds it (the
// callee side of a by-reference capture; no retain here since the cell
// already carries its own reference, shared rather than duplicated).
func (e *Environment) Bind(name string, cell *value.Value) {
	if e.cells == nil {
		e.cells = make(map[string]*value.Value)
	}
	if old, ok := e.cells[name]; ok && old != cell {
		old.Release(e.alloc)
	} else if old, ok := e.vars[name]; ok {
		old.Release(e.alloc)
		delete(e.vars, name)
	}
	e.cells[name] = cell
}
