// Package value implements the NaN-boxed Value representation described
// in spec §3/§4.1: a 64-bit tagged word that is either an IEEE-754 double
// or one of {null, true, false, int32, pointer}, with pointer values
// further tagged to one of eight heap-box categories.
//
// Pointer payloads are manager-issued handle indices, not raw addresses
// — see SPEC_FULL.md §3 for why. This package never dereferences a
// handle itself; it only encodes/decodes the 64-bit word and delegates
// retain/release to whatever Allocator is passed in.
package value

import "math"

// Value is a NaN-boxed 64-bit word.
type Value uint64

const (
	signBit  = uint64(1) << 63
	expMask  = uint64(0x7FF) << 52
	quietBit = uint64(1) << 51
	nanBase  = expMask | quietBit // 0x7FF8000000000000

	kindShift = 48
	kindMask  = uint64(0x7) << kindShift // bits [50:48]

	ptrTagShift = 32
	ptrTagMask  = uint64(0x7) << ptrTagShift // bits [34:32], only meaningful when kind==kindPointer

	payloadMask = uint64(0xFFFFFFFF) // bits [31:0]

	// canonicalNaN is the bit pattern every "real" float64 NaN is rewritten
	// to on construction. Its sign bit is 1, so it never satisfies isTagged,
	// which requires sign==0 — this is what keeps arithmetic-produced NaNs
	// from colliding with tagged words.
	canonicalNaN = signBit | nanBase | 1
)

// kind occupies bits [50:48] of a tagged word.
type kind uint8

const (
	kindNull kind = iota
	kindFalse
	kindTrue
	kindInt32
	kindPointer
)

// PtrTag selects one of the eight heap-box categories a pointer Value may
// reference (spec §3).
type PtrTag uint8

const (
	PtrString PtrTag = iota
	PtrArray
	PtrObject
	PtrStruct
	PtrClosure
	PtrResource
	PtrUserFunction
	PtrNativeFunction
)

func (t PtrTag) String() string {
	switch t {
	case PtrString:
		return "string"
	case PtrArray:
		return "array"
	case PtrObject:
		return "object"
	case PtrStruct:
		return "struct"
	case PtrClosure:
		return "closure"
	case PtrResource:
		return "resource"
	case PtrUserFunction:
		return "user-function"
	case PtrNativeFunction:
		return "native-function"
	default:
		return "unknown"
	}
}

func isTagged(w uint64) bool {
	return w&nanBase == nanBase && w&signBit == 0
}

func wordKind(w uint64) kind {
	return kind((w & kindMask) >> kindShift)
}

// --- constructors -----------------------------------------------------

// Null is the singleton null value.
var Null = Value(nanBase | uint64(kindNull)<<kindShift)

// True is the singleton boolean true value.
var True = Value(nanBase | uint64(kindTrue)<<kindShift)

// False is the singleton boolean false value.
var False = Value(nanBase | uint64(kindFalse)<<kindShift)

// OfBool returns True or False.
func OfBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// OfInt returns a Value holding a 32-bit integer. Per spec §3, the value
// word always carries a 32-bit integer; there is no heap-allocated wide
// integer box, and pkg/vm converts integer arithmetic results back to
// int32.
func OfInt(i int32) Value {
	return Value(nanBase | uint64(kindInt32)<<kindShift | uint64(uint32(i)))
}

// OfFloat returns a Value holding a float64. A NaN input is canonicalized
// to a sign-bit-set quiet NaN so it can never be mistaken for a tagged
// word (see SPEC_FULL.md §3).
func OfFloat(f float64) Value {
	bits := math.Float64bits(f)
	if math.IsNaN(f) {
		bits = canonicalNaN
	}
	return Value(bits)
}

// OfPointer returns a Value referencing heap-box handle in the given
// pointer category. Callers (pkg/heap, pkg/memory) own the handle
// lifecycle; this constructor performs no retain.
func OfPointer(tag PtrTag, handle uint32) Value {
	return Value(nanBase | uint64(kindPointer)<<kindShift | uint64(tag)<<ptrTagShift | uint64(handle))
}

// --- predicates ---------------------------------------------------------

func (v Value) IsFloat() bool  { return !isTagged(uint64(v)) }
func (v Value) IsNull() bool   { return isTagged(uint64(v)) && wordKind(uint64(v)) == kindNull }
func (v Value) IsBool() bool {
	if !isTagged(uint64(v)) {
		return false
	}
	k := wordKind(uint64(v))
	return k == kindTrue || k == kindFalse
}
func (v Value) IsInt() bool { return isTagged(uint64(v)) && wordKind(uint64(v)) == kindInt32 }
func (v Value) IsPointer() bool {
	return isTagged(uint64(v)) && wordKind(uint64(v)) == kindPointer
}
func (v Value) IsNumber() bool { return v.IsInt() || v.IsFloat() }

// IsPtrTag reports whether v is a pointer Value of the given category.
func (v Value) IsPtrTag(tag PtrTag) bool {
	return v.IsPointer() && v.PtrTag() == tag
}

func (v Value) IsString() bool         { return v.IsPtrTag(PtrString) }
func (v Value) IsArray() bool          { return v.IsPtrTag(PtrArray) }
func (v Value) IsObject() bool         { return v.IsPtrTag(PtrObject) }
func (v Value) IsStruct() bool         { return v.IsPtrTag(PtrStruct) }
func (v Value) IsClosure() bool        { return v.IsPtrTag(PtrClosure) }
func (v Value) IsResource() bool       { return v.IsPtrTag(PtrResource) }
func (v Value) IsUserFunction() bool   { return v.IsPtrTag(PtrUserFunction) }
func (v Value) IsNativeFunction() bool { return v.IsPtrTag(PtrNativeFunction) }
func (v Value) IsCallable() bool {
	return v.IsClosure() || v.IsUserFunction() || v.IsNativeFunction()
}

// --- narrowing accessors -------------------------------------------------
//
// Narrowing a mistagged value is a contract violation (spec §4.1) and
// panics rather than silently returning a zero value, so misuse is caught
// where it happens instead of producing a spurious PHP-level result.

func (v Value) AsBool() bool {
	if !v.IsBool() {
		panic("value: AsBool on non-bool Value")
	}
	return wordKind(uint64(v)) == kindTrue
}

func (v Value) AsInt() int32 {
	if !v.IsInt() {
		panic("value: AsInt on non-int Value")
	}
	return int32(uint32(uint64(v) & payloadMask))
}

func (v Value) AsFloat() float64 {
	if !v.IsFloat() {
		panic("value: AsFloat on non-float Value")
	}
	return math.Float64frombits(uint64(v))
}

// PtrTag returns the pointer category of a pointer Value.
func (v Value) PtrTag() PtrTag {
	if !v.IsPointer() {
		panic("value: PtrTag on non-pointer Value")
	}
	return PtrTag((uint64(v) & ptrTagMask) >> ptrTagShift)
}

// Handle returns the manager-issued handle index of a pointer Value.
func (v Value) Handle() uint32 {
	if !v.IsPointer() {
		panic("value: Handle on non-pointer Value")
	}
	return uint32(uint64(v) & payloadMask)
}

// --- allocator contract -------------------------------------------------

// Allocator is the narrow interface the value layer needs from the
// memory manager to give pointer Values ref-counted lifetimes, without
// the value package importing pkg/memory or pkg/heap (spec's dependency
// order: NaN-box Value → Heap boxes → Memory manager).
type Allocator interface {
	// Retain increments the refcount of the box referenced by (tag, handle).
	Retain(tag PtrTag, handle uint32)
	// Release decrements the refcount of the box referenced by (tag,
	// handle); at zero it invokes the typed destructor and recycles the
	// slot.
	Release(tag PtrTag, handle uint32)
	// ToString renders the box referenced by (tag, handle) as UTF-8 text,
	// per the coercion rules of spec §4.1 (string concatenation, echo,
	// __toString).
	ToString(tag PtrTag, handle uint32) string
	// Reference identity (spec §4.1) needs no Allocator method:
	// Value.Identical compares tag and handle directly.
}

// Retain increments the refcount of v if it is a pointer Value; a no-op
// for every other tag (spec §4.1).
func (v Value) Retain(a Allocator) {
	if v.IsPointer() {
		a.Retain(v.PtrTag(), v.Handle())
	}
}

// Release decrements the refcount of v if it is a pointer Value; a no-op
// for every other tag.
func (v Value) Release(a Allocator) {
	if v.IsPointer() {
		a.Release(v.PtrTag(), v.Handle())
	}
}

// ToBool implements PHP truthiness: null, false, 0, 0.0, "" and "0" are
// falsy; everything else (including empty arrays being handled at the
// pkg/heap layer, since this package cannot dereference handles) is
// truthy for scalars.
func (v Value) ToBool() bool {
	switch {
	case v.IsNull():
		return false
	case v.IsBool():
		return v.AsBool()
	case v.IsInt():
		return v.AsInt() != 0
	case v.IsFloat():
		f := v.AsFloat()
		return f != 0 && !math.IsNaN(f)
	default:
		return true
	}
}

// ToString renders a scalar Value as text; pointer Values delegate to the
// Allocator (which knows how to read the box and, for objects, invoke
// __toString).
func (v Value) ToString(a Allocator) string {
	switch {
	case v.IsNull():
		return ""
	case v.IsBool():
		if v.AsBool() {
			return "1"
		}
		return ""
	case v.IsInt():
		return formatInt(v.AsInt())
	case v.IsFloat():
		return formatFloat(v.AsFloat())
	case v.IsPointer():
		return a.ToString(v.PtrTag(), v.Handle())
	default:
		return ""
	}
}

// Identical implements `===`: scalars compare by value and type; pointer
// Values compare by reference identity (same tag, same handle).
func (v Value) Identical(other Value) bool {
	if v.IsPointer() && other.IsPointer() {
		return v.PtrTag() == other.PtrTag() && v.Handle() == other.Handle()
	}
	if v.IsFloat() && other.IsFloat() {
		return v.AsFloat() == other.AsFloat()
	}
	return v == other
}

// Equals implements loose `==` for scalars; pointer-to-pointer loose
// equality for strings needs box contents and is resolved one layer up,
// in pkg/vm's looseEquals, which falls back to this scalar table.
func (v Value) Equals(other Value) bool {
	switch {
	case v.IsNull() && other.IsNull():
		return true
	case v.IsBool() || other.IsBool():
		return v.ToBool() == other.ToBool()
	case v.IsNumber() && other.IsNumber():
		return numeric(v) == numeric(other)
	default:
		return v.Identical(other)
	}
}

func numeric(v Value) float64 {
	if v.IsInt() {
		return float64(v.AsInt())
	}
	return v.AsFloat()
}
