package memory

import (
	"testing"

	"github.com/corewell/phprt/pkg/heap"
	"github.com/corewell/phprt/pkg/value"
)

func TestRetainReleaseNeutral(t *testing.T) {
	m := NewManager(nil)
	v := m.NewString([]byte("hello"))
	before := m.PoolStats()[value.PtrString.String()]
	v.Retain(m)
	v.Release(m)
	after := m.PoolStats()[value.PtrString.String()]
	if before.Free != after.Free {
		t.Fatalf("retain+release changed pool free count: %+v vs %+v", before, after)
	}
	v.Release(m) // drop the constructor's own retain(1)
}

func TestInternIdempotent(t *testing.T) {
	m := NewManager(nil)
	a := m.InternString([]byte("foo"))
	b := m.InternString([]byte("foo"))
	if !a.Identical(b) {
		t.Fatalf("interning the same bytes twice must yield identical handles")
	}
	if got := m.StringAt(a.Handle()).RC; got != 2 {
		t.Fatalf("expected refcount 2 after two interns, got %d", got)
	}
	a.Release(m)
	b.Release(m)
}

func TestArrayInsertionOrderPreserved(t *testing.T) {
	m := NewManager(nil)
	av := m.NewArrayValue()
	arr := m.ArrayAt(av.Handle())
	m.ArrayPush(av.Handle(), value.OfInt(1))
	m.ArraySet(av.Handle(), heap.StrArrayKey("a"), value.OfInt(2))
	m.ArrayPush(av.Handle(), value.OfInt(3))

	var gotKeys []heap.ArrayKey
	arr.Each(func(k heap.ArrayKey, v value.Value) bool {
		gotKeys = append(gotKeys, k)
		return true
	})
	if len(gotKeys) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(gotKeys))
	}
	if gotKeys[0].IntKey != 0 || gotKeys[1].StrKey != "a" || gotKeys[2].IntKey != 1 {
		t.Fatalf("iteration order != insertion order: %+v", gotKeys)
	}
	av.Release(m)
}

func TestObjectSetGetOverwrite(t *testing.T) {
	m := NewManager(nil)
	ov := m.NewObjectValue(1, 1)
	h := ov.Handle()
	m.ObjectAppendSlot(h, value.Null) // reserve slot 0
	m.ObjectSetSlot(h, 0, value.OfInt(10))
	got, _ := m.ObjectAt(h).Slot(0)
	if got.AsInt() != 10 {
		t.Fatalf("expected 10, got %v", got)
	}
	m.ObjectSetSlot(h, 0, value.OfInt(20))
	got, _ = m.ObjectAt(h).Slot(0)
	if got.AsInt() != 20 {
		t.Fatalf("expected 20 after overwrite, got %v", got)
	}
	ov.Release(m)
}

func TestGCFreesUnreachableCycle(t *testing.T) {
	m := NewManager(nil)
	m.SetRoots(func() []value.Value { return nil }) // nothing externally reachable

	a := m.NewArrayValue()
	b := m.NewArrayValue()
	// a[0] = b; b[0] = a — a cycle neither side can break by itself.
	m.ArrayPush(a.Handle(), b)
	m.ArrayPush(b.Handle(), a)
	// Drop the only external references; RC stays 1 on each side because
	// of the mutual reference.
	a.Release(m)
	b.Release(m)

	if m.ArrayAt(a.Handle()).RC == 0 {
		t.Fatalf("refcounting alone must not have freed the cycle yet")
	}

	before := m.PoolStats()[value.PtrArray.String()].Free
	m.GC().CollectYoung()
	after := m.PoolStats()[value.PtrArray.String()].Free

	if after-before < 2 {
		t.Fatalf("expected the GC to reclaim both cyclic arrays, free count %d -> %d", before, after)
	}
}

func TestGCKeepsReachableObjectsAlive(t *testing.T) {
	m := NewManager(nil)
	root := m.NewArrayValue()
	m.SetRoots(func() []value.Value { return []value.Value{root} })

	child := m.NewStructValue(1, 1, false)
	m.ArrayPush(root.Handle(), child)
	child.Release(m) // array now owns the only retain

	m.GC().CollectYoung()

	if m.StructAt(child.Handle()).RC < 1 {
		t.Fatalf("reachable struct must survive a young collection")
	}
	root.Release(m)
}
