package value

import (
	"math"
	"testing"
)

func TestScalarPredicates(t *testing.T) {
	if !Null.IsNull() {
		t.Fatalf("Null.IsNull() = false")
	}
	if !True.AsBool() || False.AsBool() {
		t.Fatalf("True/False boolean payload mismatch")
	}
	v := OfInt(-42)
	if !v.IsInt() || v.AsInt() != -42 {
		t.Fatalf("OfInt round-trip failed, got %v", v.AsInt())
	}
	f := OfFloat(3.5)
	if !f.IsFloat() || f.AsFloat() != 3.5 {
		t.Fatalf("OfFloat round-trip failed, got %v", f.AsFloat())
	}
}

func TestNaNCanonicalizationNeverCollidesWithTaggedWords(t *testing.T) {
	nan := OfFloat(math.NaN())
	if !nan.IsFloat() {
		t.Fatalf("canonicalized NaN must still report IsFloat()")
	}
	if nan.IsNull() || nan.IsBool() || nan.IsInt() || nan.IsPointer() {
		t.Fatalf("canonicalized NaN must not be mistaken for a tagged word")
	}
	if !math.IsNaN(nan.AsFloat()) {
		t.Fatalf("canonicalized NaN must still report as NaN")
	}
}

func TestPointerRoundTrip(t *testing.T) {
	for tag := PtrString; tag <= PtrNativeFunction; tag++ {
		v := OfPointer(tag, 12345)
		if !v.IsPointer() {
			t.Fatalf("tag %v: expected IsPointer", tag)
		}
		if got := v.PtrTag(); got != tag {
			t.Fatalf("tag %v: PtrTag() = %v", tag, got)
		}
		if got := v.Handle(); got != 12345 {
			t.Fatalf("tag %v: Handle() = %d, want 12345", tag, got)
		}
	}
}

func TestIntStringRoundTrip(t *testing.T) {
	for _, i := range []int32{0, 1, -1, math.MaxInt32, math.MinInt32, 7, -7} {
		s := OfInt(i).ToString(nil)
		got, ok := ParseInt(s)
		if !ok || got != i {
			t.Fatalf("round trip for %d produced %q -> %d (ok=%v)", i, s, got, ok)
		}
	}
}

func TestToBoolFalsyRules(t *testing.T) {
	cases := []struct {
		v    Value
		want bool
	}{
		{Null, false},
		{False, false},
		{True, true},
		{OfInt(0), false},
		{OfInt(1), true},
		{OfFloat(0), false},
		{OfFloat(0.1), true},
	}
	for _, c := range cases {
		if got := c.v.ToBool(); got != c.want {
			t.Fatalf("ToBool(%v) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestIdenticalVsEquals(t *testing.T) {
	if !OfInt(1).Equals(OfFloat(1.0)) {
		t.Fatalf("1 == 1.0 should be loosely equal")
	}
	if OfInt(1).Identical(OfFloat(1.0)) {
		t.Fatalf("1 === 1.0 should not be identical (different tags)")
	}
	a := OfPointer(PtrArray, 7)
	b := OfPointer(PtrArray, 7)
	c := OfPointer(PtrArray, 8)
	if !a.Identical(b) {
		t.Fatalf("same tag+handle must be identical")
	}
	if a.Identical(c) {
		t.Fatalf("different handles must not be identical")
	}
}

func TestRetainReleaseNeutrality(t *testing.T) {
	fa := &fakeAllocator{}
	v := OfPointer(PtrString, 3)
	v.Retain(fa)
	v.Release(fa)
	if fa.counts[3] != 0 {
		t.Fatalf("retain+release should leave refcount delta at zero, got %d", fa.counts[3])
	}
	// Non-pointer tags must be no-ops.
	Null.Retain(fa)
	Null.Release(fa)
	OfInt(5).Retain(fa)
	OfInt(5).Release(fa)
	if len(fa.counts) != 1 {
		t.Fatalf("non-pointer retain/release must not touch the allocator")
	}
}

type fakeAllocator struct {
	counts map[uint32]int
}

func (f *fakeAllocator) Retain(tag PtrTag, handle uint32) {
	if f.counts == nil {
		f.counts = map[uint32]int{}
	}
	f.counts[handle]++
}

func (f *fakeAllocator) Release(tag PtrTag, handle uint32) {
	if f.counts == nil {
		f.counts = map[uint32]int{}
	}
	f.counts[handle]--
}

func (f *fakeAllocator) ToString(tag PtrTag, handle uint32) string {
	return ""
}
