// Package heap implements the managed entities that live behind a
// pointer-tagged value.Value: the uniform heap-box envelope (refcount +
// GC metadata) and the typed payloads — String, Array, Object, Struct,
// Closure, ArrowFunction, Resource (spec §3).
//
// This package knows nothing about classes, interfaces, traits or
// shapes beyond small integer IDs: pkg/object owns those registries and
// looks objects up by the ClassID/ShapeID an ObjectBox carries, which
// keeps pkg/heap a leaf package per the dependency order in spec §2
// ("NaN-box Value → Heap boxes → Memory manager → Object model → …").
package heap

// Color is a tri-colour GC mark used by the generational collector in
// pkg/memory (spec §4.2).
type Color uint8

const (
	White Color = iota // not yet visited this collection; candidate for sweep
	Gray               // reachable, children not yet scanned
	Black              // reachable, children scanned
)

// Generation identifies which GC generation a box currently lives in.
type Generation uint8

const (
	Young Generation = iota
	Old
)

// Header is the uniform envelope every managed entity embeds: a
// reference count plus the GC metadata the generational collector needs
// (spec §3 "Heap box").
type Header struct {
	RC    int32
	Color Color
	Age   uint8
	Gen   Generation
}

// Retain increments the reference count.
func (h *Header) Retain() { h.RC++ }

// ReleaseCount decrements the reference count and reports whether it
// reached zero (the caller is then responsible for invoking the typed
// destructor and recycling the slot).
func (h *Header) ReleaseCount() bool {
	h.RC--
	if h.RC < 0 {
		panic("heap: refcount underflow — release without matching retain")
	}
	return h.RC == 0
}
