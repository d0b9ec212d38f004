package object

import (
	"errors"
	"testing"

	"github.com/corewell/phprt/pkg/heap"
	"github.com/corewell/phprt/pkg/memory"
	"github.com/corewell/phprt/pkg/value"
)

func TestShapeTransitionSharedAcrossInstances(t *testing.T) {
	r := NewRegistry()
	root := r.shapes.NewRootShape()
	s1, slot1 := r.shapes.Transition(root, "x")
	s2, slot2 := r.shapes.Transition(root, "x")
	if s1 != s2 || slot1 != slot2 {
		t.Fatalf("transitioning the same property name twice must reuse the child shape")
	}
	s3, _ := r.shapes.Transition(root, "y")
	if s3 == s1 {
		t.Fatalf("different property names must mint distinct shapes")
	}
}

func TestDefineClassBasicAndInstantiate(t *testing.T) {
	r := NewRegistry()
	mgr := memory.NewManager(nil)

	cid, err := r.DefineClass(ClassSpec{
		Name: "Point",
		Properties: []PropertyDecl{
			{Name: "x", Default: value.OfInt(0)},
			{Name: "y", Default: value.OfInt(0)},
		},
	})
	if err != nil {
		t.Fatalf("DefineClass: %v", err)
	}
	class := r.ClassByID(cid)

	v, err := NewInstance(mgr, class)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	obj := mgr.ObjectAt(v.Handle())
	if len(obj.Slots) != 2 {
		t.Fatalf("expected 2 property slots, got %d", len(obj.Slots))
	}
	got, found := GetProperty(mgr, r, obj, "x")
	if !found || got.AsInt() != 0 {
		t.Fatalf("expected default x=0, got %v found=%v", got, found)
	}
	v.Release(mgr)
}

func TestSetPropertyReusesSlotAndCache(t *testing.T) {
	r := NewRegistry()
	mgr := memory.NewManager(nil)

	cid, _ := r.DefineClass(ClassSpec{Name: "Box"})
	class := r.ClassByID(cid)
	v, _ := NewInstance(mgr, class)
	h := v.Handle()

	SetProperty(mgr, r, h, "label", mgr.InternString([]byte("a")))
	obj := mgr.ObjectAt(h)
	if len(obj.Slots) != 1 {
		t.Fatalf("expected the first write of a new property to grow the slot vector once, got %d slots", len(obj.Slots))
	}

	SetProperty(mgr, r, h, "label", mgr.InternString([]byte("b")))
	obj = mgr.ObjectAt(h)
	if len(obj.Slots) != 1 {
		t.Fatalf("expected overwriting an existing property to reuse its slot, got %d slots", len(obj.Slots))
	}
	got, found := GetProperty(mgr, r, obj, "label")
	if !found || got.ToString(mgr) != "b" {
		t.Fatalf("expected label=b, got %v found=%v", got, found)
	}
	v.Release(mgr)
}

func TestAbstractClassCannotBeInstantiated(t *testing.T) {
	r := NewRegistry()
	mgr := memory.NewManager(nil)

	cid, err := r.DefineClass(ClassSpec{
		Name:     "Shape",
		Abstract: true,
		Methods:  []MethodDecl{{Name: "area", Abstract: true}},
	})
	if err != nil {
		t.Fatalf("DefineClass: %v", err)
	}
	if _, err := NewInstance(mgr, r.ClassByID(cid)); !errors.Is(err, ErrAbstractInstantiation) {
		t.Fatalf("expected ErrAbstractInstantiation, got %v", err)
	}
}

func TestAbstractMethodRequiresConcreteOverride(t *testing.T) {
	r := NewRegistry()
	parent, _ := r.DefineClass(ClassSpec{
		Name:     "Shape",
		Abstract: true,
		Methods:  []MethodDecl{{Name: "area", Abstract: true}},
	})
	_, err := r.DefineClass(ClassSpec{Name: "Circle", Parent: parent})
	if !errors.Is(err, ErrAbstractNotOverridden) {
		t.Fatalf("expected ErrAbstractNotOverridden, got %v", err)
	}

	_, err = r.DefineClass(ClassSpec{
		Name:   "Square",
		Parent: parent,
		Methods: []MethodDecl{{Name: "area", Fn: value.Null}},
	})
	if err != nil {
		t.Fatalf("expected concrete override to satisfy the abstract method, got %v", err)
	}
}

func TestInterfaceGapIsRejected(t *testing.T) {
	r := NewRegistry()
	iface, _ := r.DefineInterface("Greets", nil, []string{"greet"})

	_, err := r.DefineClass(ClassSpec{Name: "Mute", Interfaces: []heap.ClassID{iface}})
	if !errors.Is(err, ErrInterfaceGap) {
		t.Fatalf("expected ErrInterfaceGap, got %v", err)
	}

	_, err = r.DefineClass(ClassSpec{
		Name:       "Polite",
		Interfaces: []heap.ClassID{iface},
		Methods:    []MethodDecl{{Name: "greet", Fn: value.Null}},
	})
	if err != nil {
		t.Fatalf("expected a concrete implementation to satisfy the interface, got %v", err)
	}
}
