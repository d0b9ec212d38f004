package object

import (
	"github.com/corewell/phprt/pkg/heap"
	"github.com/corewell/phprt/pkg/memory"
	"github.com/corewell/phprt/pkg/value"
)

// NewInstance allocates an Object box for class, with every declared
// property (ancestors first) set to its default in slot order (spec
// §4.3 "__construct runs after property defaults are applied"). Running
// __construct itself is pkg/vm's job — this package cannot invoke the
// evaluator (SPEC_FULL.md §2 dependency order).
func NewInstance(mgr *memory.Manager, class *Class) (value.Value, error) {
	if class.IsAbstract || class.IsInterface || class.IsTrait {
		return value.Null, ErrAbstractInstantiation
	}
	v := mgr.NewObjectValue(class.ID, class.RootShape)
	h := v.Handle()
	for _, p := range class.AllProperties {
		mgr.ObjectAppendSlot(h, p.Default)
	}
	return v, nil
}

// GetProperty reads a named property off obj, consulting reg's inline
// cache before falling back to a shape walk (spec §4.3/§4.4). found is
// false when name is not a declared property of obj's class — the
// caller (pkg/vm) is then responsible for the __get fallback.
func GetProperty(mgr *memory.Manager, reg *Registry, obj *heap.Object, name string) (v value.Value, found bool) {
	if slot, ok := reg.cache.Lookup(obj.Shape, name); ok {
		if got, ok2 := obj.Slot(slot); ok2 {
			return got, true
		}
	}
	slot, ok := reg.shapes.Resolve(obj.Shape, name)
	if !ok {
		return value.Null, false
	}
	reg.cache.Store(obj.Shape, name, slot)
	got, _ := obj.Slot(slot)
	return got, true
}

// SetProperty writes a named property on the object referenced by
// handle. If name is already a declared property its slot is reused
// (spec §4.3 "writes to an existing property reuse the slot");
// otherwise a shape transition grows the instance (spec §4.3 "writes to
// a new property call shape.transition"). There is no result: an
// undeclared property is simply declared on write (PHP's
// dynamic-property semantics), unlike a read miss.
func SetProperty(mgr *memory.Manager, reg *Registry, handle uint32, name string, v value.Value) {
	obj := mgr.ObjectAt(handle)
	if slot, ok := reg.cache.Lookup(obj.Shape, name); ok {
		mgr.ObjectSetSlot(handle, slot, v)
		return
	}
	if slot, ok := reg.shapes.Resolve(obj.Shape, name); ok {
		reg.cache.Store(obj.Shape, name, slot)
		mgr.ObjectSetSlot(handle, slot, v)
		return
	}
	nextShape, slot := reg.shapes.Transition(obj.Shape, name)
	obj.Shape = nextShape
	mgr.ObjectAppendSlot(handle, v)
	reg.cache.Store(nextShape, name, slot)
}

// Clone returns a new Object box that shallow-copies handle's slot
// vector, retaining each copied pointer slot (spec §4.3 "clone performs
// a shallow copy of the slot vector (retaining each slot)"). Running
// __clone on the copy is pkg/vm's job.
func Clone(mgr *memory.Manager, handle uint32) value.Value {
	src := mgr.ObjectAt(handle)
	out := mgr.NewObjectValue(src.Class, src.Shape)
	for _, slot := range src.CloneSlots() {
		mgr.ObjectAppendSlot(out.Handle(), slot) // retains slot, runs the write barrier
	}
	return out
}
