package memory

import (
	"github.com/corewell/phprt/pkg/heap"
	"github.com/corewell/phprt/pkg/value"
	"github.com/prometheus/client_golang/prometheus"
)

// Manager is the facade composing the four memory subsystems of spec
// §4.2 — arena allocator (per-request, owned by callers via NewArena),
// object pools (one per heap-box kind, doubling as handle tables),
// string interner, and generational GC — and implements
// value.Allocator so pkg/vm's evaluator can retain/release/stringify
// Values without knowing which subsystem backs a given pointer tag.
type Manager struct {
	strings     *ObjectPool[heap.String]
	arrays      *ObjectPool[heap.Array]
	objects     *ObjectPool[heap.Object]
	structs     *ObjectPool[heap.Struct]
	closures    *ObjectPool[heap.Closure]
	resources   *ObjectPool[heap.Resource]
	userFuncs   *ObjectPool[heap.UserFunction]
	nativeFuncs *ObjectPool[heap.NativeFunction]

	interner *Interner
	gc       *GC

	// rootsFn supplies the VM's current GC roots (globals + call-frame
	// locals + any pinned temporaries); set once via SetRoots at VM
	// startup. Nil is treated as "no roots" (used in unit tests that
	// exercise the allocator without a full VM).
	rootsFn func() []value.Value

	// objectStringer invokes __toString on an Object box; set by
	// pkg/object (which alone knows how to run a method call) to break
	// the dependency pkg/heap/pkg/memory would otherwise have on the
	// object model.
	objectStringer func(handle uint32) string
}

// NewManager returns a Manager with empty pools, a fresh interner, and a
// fresh generational GC. reg, if non-nil, receives every subsystem's
// Prometheus metrics.
func NewManager(reg prometheus.Registerer) *Manager {
	m := &Manager{
		strings: NewObjectPool[heap.String](func(s *heap.String) {
			s.Bytes = nil
			s.Encoding = heap.EncodingUTF8
			s.Interned = false
			s.Header = heap.Header{}
		}),
		arrays: NewObjectPool[heap.Array](func(a *heap.Array) {
			a.Reset()
			a.Header = heap.Header{}
		}),
		objects: NewObjectPool[heap.Object](func(o *heap.Object) {
			o.Class = 0
			o.Shape = 0
			o.Slots = o.Slots[:0]
			o.Header = heap.Header{}
		}),
		structs: NewObjectPool[heap.Struct](func(s *heap.Struct) {
			s.Decl = 0
			s.Fields = s.Fields[:0]
			s.StackEligible = false
			s.Header = heap.Header{}
		}),
		closures: NewObjectPool[heap.Closure](func(c *heap.Closure) {
			c.Kind = heap.KindClosure
			c.Function = value.Null
			c.Captures = c.Captures[:0]
			c.Receiver = value.Null
			c.ScopeClass = 0
			c.Header = heap.Header{}
		}),
		resources: NewObjectPool[heap.Resource](func(r *heap.Resource) {
			r.TypeName = ""
			r.Handle = nil
			r.Destroy = nil
			r.Header = heap.Header{}
		}),
		userFuncs: NewObjectPool[heap.UserFunction](func(f *heap.UserFunction) {
			*f = heap.UserFunction{}
		}),
		nativeFuncs: NewObjectPool[heap.NativeFunction](func(f *heap.NativeFunction) {
			*f = heap.NativeFunction{}
		}),
		interner: NewInterner(reg),
	}
	m.gc = NewGC(reg, m)
	return m
}

// SetRoots installs the VM's GC-root provider. Must be called before
// any Collect call; omitted in allocator-only unit tests.
func (m *Manager) SetRoots(fn func() []value.Value) { m.rootsFn = fn }

// SetObjectStringer installs the __toString hook used by ToString for
// PtrObject handles.
func (m *Manager) SetObjectStringer(fn func(handle uint32) string) { m.objectStringer = fn }

// Interner exposes the string interner for callers (the evaluator's
// identifier/property-name fast path) that want to intern explicitly.
func (m *Manager) Interner() *Interner { return m.interner }

// GC exposes the generational collector for explicit collection
// triggers (normally driven by pkg/gcpolicy's decisions).
func (m *Manager) GC() *GC { return m.gc }

// --- constructors --------------------------------------------------------

// NewString allocates a fresh, uninterned, retained(1) string box.
func (m *Manager) NewString(b []byte) value.Value {
	h, box := m.strings.Acquire()
	box.Bytes = append([]byte(nil), b...)
	box.RC = 1
	return value.OfPointer(value.PtrString, h)
}

// InternString returns a shared, retained string box for b, allocating
// one only on the first occurrence (spec §4.2 string interner).
func (m *Manager) InternString(b []byte) value.Value {
	key := string(b)
	if h, ok := m.interner.Lookup(key); ok {
		m.strings.Get(h).Retain()
		return value.OfPointer(value.PtrString, h)
	}
	h, box := m.strings.Acquire()
	box.Bytes = []byte(key)
	box.Interned = true
	box.RC = 1
	m.interner.Insert(key, h)
	return value.OfPointer(value.PtrString, h)
}

// NewArrayValue allocates a fresh, empty, retained(1) array box.
func (m *Manager) NewArrayValue() value.Value {
	h, box := m.arrays.Acquire()
	box.RC = 1
	return value.OfPointer(value.PtrArray, h)
}

// NewObjectValue allocates a retained(1) object box for the given class
// and root shape (pkg/object supplies both IDs).
func (m *Manager) NewObjectValue(class heap.ClassID, rootShape heap.ShapeID) value.Value {
	h, box := m.objects.Acquire()
	box.Class = class
	box.Shape = rootShape
	box.RC = 1
	return value.OfPointer(value.PtrObject, h)
}

// NewStructValue allocates a retained(1) struct box with n zero-valued
// fields.
func (m *Manager) NewStructValue(decl heap.StructID, n int, stackEligible bool) value.Value {
	h, box := m.structs.Acquire()
	box.Decl = decl
	box.Fields = make([]value.Value, n)
	for i := range box.Fields {
		box.Fields[i] = value.Null
	}
	box.StackEligible = stackEligible
	box.RC = 1
	return value.OfPointer(value.PtrStruct, h)
}

// NewClosureValue allocates a retained(1) closure box. fn must be a
// PtrUserFunction Value; it is retained by this call.
func (m *Manager) NewClosureValue(kind heap.FunctionKind, fn value.Value, captures []heap.Capture, receiver value.Value, scope heap.ClassID) value.Value {
	h, box := m.closures.Acquire()
	box.Kind = kind
	box.Function = fn
	fn.Retain(m)
	box.Captures = captures
	for i := range box.Captures {
		if box.Captures[i].Mode == heap.ByValue {
			box.Captures[i].Value.Retain(m)
		}
	}
	box.Receiver = receiver
	receiver.Retain(m)
	box.ScopeClass = scope
	box.RC = 1
	return value.OfPointer(value.PtrClosure, h)
}

// NewResourceValue allocates a retained(1) resource box.
func (m *Manager) NewResourceValue(typeName string, handle interface{}, destroy func(interface{})) value.Value {
	h, box := m.resources.Acquire()
	box.TypeName = typeName
	box.Handle = handle
	box.Destroy = destroy
	box.RC = 1
	return value.OfPointer(value.PtrResource, h)
}

// NewUserFunctionValue allocates a retained(1) user-function box.
func (m *Manager) NewUserFunctionValue(fn heap.UserFunction) value.Value {
	h, box := m.userFuncs.Acquire()
	*box = fn
	box.RC = 1
	return value.OfPointer(value.PtrUserFunction, h)
}

// NewNativeFunctionValue allocates a retained(1) native-function box.
func (m *Manager) NewNativeFunctionValue(fn heap.NativeFunction) value.Value {
	h, box := m.nativeFuncs.Acquire()
	*box = fn
	box.RC = 1
	return value.OfPointer(value.PtrNativeFunction, h)
}

// --- dereferencing accessors ---------------------------------------------

func (m *Manager) StringAt(h uint32) *heap.String             { return m.strings.Get(h) }
func (m *Manager) ArrayAt(h uint32) *heap.Array                { return m.arrays.Get(h) }
func (m *Manager) ObjectAt(h uint32) *heap.Object              { return m.objects.Get(h) }
func (m *Manager) StructAt(h uint32) *heap.Struct              { return m.structs.Get(h) }
func (m *Manager) ClosureAt(h uint32) *heap.Closure            { return m.closures.Get(h) }
func (m *Manager) ResourceAt(h uint32) *heap.Resource          { return m.resources.Get(h) }
func (m *Manager) UserFunctionAt(h uint32) *heap.UserFunction  { return m.userFuncs.Get(h) }
func (m *Manager) NativeFunctionAt(h uint32) *heap.NativeFunction { return m.nativeFuncs.Get(h) }

// --- value.Allocator ------------------------------------------------------

// Retain implements value.Allocator.
func (m *Manager) Retain(tag value.PtrTag, handle uint32) {
	switch tag {
	case value.PtrString:
		m.strings.Get(handle).Retain()
	case value.PtrArray:
		m.arrays.Get(handle).Retain()
	case value.PtrObject:
		m.objects.Get(handle).Retain()
	case value.PtrStruct:
		m.structs.Get(handle).Retain()
	case value.PtrClosure:
		m.closures.Get(handle).Retain()
	case value.PtrResource:
		m.resources.Get(handle).Retain()
	case value.PtrUserFunction:
		m.userFuncs.Get(handle).Retain()
	case value.PtrNativeFunction:
		m.nativeFuncs.Get(handle).Retain()
	}
}

// Release implements value.Allocator: decrements the refcount and, at
// zero, releases owned children, runs the typed destructor, and returns
// the slot to its pool.
func (m *Manager) Release(tag value.PtrTag, handle uint32) {
	switch tag {
	case value.PtrString:
		s := m.strings.Get(handle)
		if s.ReleaseCount() {
			if s.Interned {
				m.interner.Evict(string(s.Bytes))
			}
			m.strings.Release(handle)
		}
	case value.PtrArray:
		a := m.arrays.Get(handle)
		if a.ReleaseCount() {
			a.Each(func(_ heap.ArrayKey, v value.Value) bool {
				v.Release(m)
				return true
			})
			m.arrays.Release(handle)
		}
	case value.PtrObject:
		o := m.objects.Get(handle)
		if o.ReleaseCount() {
			for _, v := range o.Slots {
				v.Release(m)
			}
			m.objects.Release(handle)
		}
	case value.PtrStruct:
		s := m.structs.Get(handle)
		if s.ReleaseCount() {
			for _, v := range s.Fields {
				v.Release(m)
			}
			m.structs.Release(handle)
		}
	case value.PtrClosure:
		c := m.closures.Get(handle)
		if c.ReleaseCount() {
			c.Function.Release(m)
			c.Receiver.Release(m)
			for _, c := range c.Captures {
				if c.Mode == heap.ByValue {
					c.Value.Release(m)
				}
			}
			m.closures.Release(handle)
		}
	case value.PtrResource:
		r := m.resources.Get(handle)
		if r.ReleaseCount() {
			r.Close()
			m.resources.Release(handle)
		}
	case value.PtrUserFunction:
		f := m.userFuncs.Get(handle)
		if f.ReleaseCount() {
			m.userFuncs.Release(handle)
		}
	case value.PtrNativeFunction:
		f := m.nativeFuncs.Get(handle)
		if f.ReleaseCount() {
			m.nativeFuncs.Release(handle)
		}
	}
}

// ToString implements value.Allocator.
func (m *Manager) ToString(tag value.PtrTag, handle uint32) string {
	switch tag {
	case value.PtrString:
		return string(m.strings.Get(handle).Bytes)
	case value.PtrArray:
		return "Array"
	case value.PtrObject:
		if m.objectStringer != nil {
			return m.objectStringer(handle)
		}
		return "Object"
	case value.PtrClosure:
		return "Closure"
	case value.PtrResource:
		return "Resource id#" + m.resources.Get(handle).TypeName
	case value.PtrUserFunction:
		return m.userFuncs.Get(handle).Name
	case value.PtrNativeFunction:
		return m.nativeFuncs.Get(handle).Name
	default:
		return ""
	}
}

// PoolStats reports pool-efficiency metrics for every heap-box kind,
// keyed by the pointer tag name (spec §4.2).
func (m *Manager) PoolStats() map[string]PoolStats {
	return map[string]PoolStats{
		value.PtrString.String():         m.strings.Stats(),
		value.PtrArray.String():          m.arrays.Stats(),
		value.PtrObject.String():         m.objects.Stats(),
		value.PtrStruct.String():         m.structs.Stats(),
		value.PtrClosure.String():        m.closures.Stats(),
		value.PtrResource.String():       m.resources.Stats(),
		value.PtrUserFunction.String():   m.userFuncs.Stats(),
		value.PtrNativeFunction.String(): m.nativeFuncs.Stats(),
	}
}

// --- write-barrier-aware mutation entry points ----------------------------
//
// pkg/vm and pkg/object must mutate containers through these instead of
// calling the pkg/heap setters directly whenever the container might be
// old-generation, so the GC's remembered set stays correct (spec §4.2
// "write barrier that inserts into the remembered set on old→young
// stores").

// ArraySet retains v, releases any value previously bound to k, writes
// through to the array, and runs the write barrier.
func (m *Manager) ArraySet(handle uint32, k heap.ArrayKey, v value.Value) {
	a := m.arrays.Get(handle)
	if old, ok := a.Get(k); ok {
		old.Release(m)
	}
	v.Retain(m)
	a.Set(k, v)
	m.gc.WriteBarrierIfNeeded(boxRef{value.PtrArray, handle}, v)
}

// ArrayPush retains v, appends it under the array's next auto-index, and
// runs the write barrier.
func (m *Manager) ArrayPush(handle uint32, v value.Value) heap.ArrayKey {
	a := m.arrays.Get(handle)
	v.Retain(m)
	k := a.Push(v)
	m.gc.WriteBarrierIfNeeded(boxRef{value.PtrArray, handle}, v)
	return k
}

// ArrayDelete releases and removes k from the array, if present.
func (m *Manager) ArrayDelete(handle uint32, k heap.ArrayKey) {
	a := m.arrays.Get(handle)
	if old, ok := a.Delete(k); ok {
		old.Release(m)
	}
}

// ObjectSetSlot retains v, releases the slot's previous value, writes
// through, and runs the write barrier — the reuse path for an existing
// property (spec §4.3 "Writes to an existing property reuse the slot").
func (m *Manager) ObjectSetSlot(handle uint32, offset int, v value.Value) {
	o := m.objects.Get(handle)
	if old, ok := o.Slot(offset); ok {
		old.Release(m)
	}
	v.Retain(m)
	o.SetSlot(offset, v)
	m.gc.WriteBarrierIfNeeded(boxRef{value.PtrObject, handle}, v)
}

// ObjectAppendSlot retains v and appends a new slot — the path for a
// shape transition adding a property (spec §4.3).
func (m *Manager) ObjectAppendSlot(handle uint32, v value.Value) int {
	o := m.objects.Get(handle)
	v.Retain(m)
	offset := o.AppendSlot(v)
	m.gc.WriteBarrierIfNeeded(boxRef{value.PtrObject, handle}, v)
	return offset
}
