package heap

import "github.com/corewell/phprt/pkg/value"

// ClassID identifies a class in pkg/object's class registry. ShapeID
// identifies a node in pkg/object's shape tree. Both are small integers
// rather than pointers so this package need not import pkg/object (spec
// §2 dependency order; see SPEC_FULL.md Design Notes).
type ClassID int32
type ShapeID int32

// Object is a class instance: a class reference, its current shape, and
// a packed slot vector indexed by shape offsets (spec §3, §4.3).
type Object struct {
	Header
	Class ClassID
	Shape ShapeID
	Slots []value.Value
}

// NewObject returns an Object box with a zero-length slot vector; slots
// are appended as shape transitions add properties.
func NewObject(class ClassID, rootShape ShapeID) *Object {
	return &Object{Class: class, Shape: rootShape}
}

// Slot returns the value at offset, or value.Null with ok=false if the
// offset is out of range.
func (o *Object) Slot(offset int) (value.Value, bool) {
	if offset < 0 || offset >= len(o.Slots) {
		return value.Null, false
	}
	return o.Slots[offset], true
}

// SetSlot overwrites an existing slot. The caller is responsible for
// retain/release bookkeeping of the old and new values (spec §4.1).
func (o *Object) SetSlot(offset int, v value.Value) {
	o.Slots[offset] = v
}

// AppendSlot grows the slot vector by one entry, used when a shape
// transition adds a new property offset.
func (o *Object) AppendSlot(v value.Value) int {
	o.Slots = append(o.Slots, v)
	return len(o.Slots) - 1
}

// CloneSlots returns a shallow copy of the slot vector for `clone`
// semantics (spec §4.3): every slot value is copied as-is; retaining
// each copied pointer slot is the caller's responsibility (mirrors
// `clone` "retaining each slot").
func (o *Object) CloneSlots() []value.Value {
	out := make([]value.Value, len(o.Slots))
	copy(out, o.Slots)
	return out
}

// StructID identifies a struct declaration in pkg/object's registry.
type StructID int32

// Struct is a value-type instance: fields only, no identity beyond its
// contents. Assignment/parameter-passing copies the field vector (value
// semantics) rather than sharing the box, unlike Object.
//
// spec §3 allows small (<=64 byte, pointer-free) struct instances to be
// "stack allocated"; this Go implementation always heap-boxes structs
// (through the same slab pool as objects, so allocation cost is already
// low) and instead exposes StackEligible as a hint the evaluator may use
// to skip a defensive copy when it can prove the instance never escapes
// the current call frame. True inline stack placement of a
// heterogeneous value type isn't expressible in Go without unsafe casts
// that would defeat the type system elsewhere in the runtime.
type Struct struct {
	Header
	Decl   StructID
	Fields []value.Value

	// StackEligible mirrors the <=64-byte, no-embedded-pointers test from
	// spec §3; computed once at struct declaration time by pkg/object.
	StackEligible bool
}

// Copy returns a new Struct box with a copied field vector, implementing
// PHP struct value semantics (copy on assignment).
func (s *Struct) Copy() *Struct {
	out := &Struct{Decl: s.Decl, StackEligible: s.StackEligible}
	out.Fields = make([]value.Value, len(s.Fields))
	copy(out.Fields, s.Fields)
	return out
}
