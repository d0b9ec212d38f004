package jit

import (
	"context"
	"testing"

	"github.com/corewell/phprt/pkg/heap"
	"github.com/corewell/phprt/pkg/value"
)

func TestTryCallDeclinesWithoutRegisteredModule(t *testing.T) {
	ctx := context.Background()
	h, err := NewHook(ctx)
	if err != nil {
		t.Fatalf("NewHook: %v", err)
	}
	defer h.Close(ctx)

	fn := &heap.UserFunction{Name: "not_accelerated"}
	_, ok, err := h.TryCall(ctx, fn, nil)
	if err != nil {
		t.Fatalf("TryCall: %v", err)
	}
	if ok {
		t.Fatal("TryCall should decline when no module is registered for this function")
	}
}

func TestToJSONArgsRejectsPointerValues(t *testing.T) {
	if _, err := toJSONArgs([]value.Value{value.OfInt(1)}); err != nil {
		t.Fatalf("scalar arg should be accepted: %v", err)
	}
	if _, err := toJSONArgs([]value.Value{value.OfPointer(value.PtrArray, 1)}); err == nil {
		t.Fatal("pointer arg should be rejected")
	}
}

func TestFromJSONResultScalars(t *testing.T) {
	cases := []struct {
		raw  string
		want value.Value
	}{
		{"null", value.Null},
		{"true", value.True},
		{"false", value.False},
		{"42", value.OfInt(42)},
		{"3.5", value.OfFloat(3.5)},
	}
	for _, c := range cases {
		got, err := fromJSONResult([]byte(c.raw))
		if err != nil {
			t.Fatalf("fromJSONResult(%q): %v", c.raw, err)
		}
		if !got.Identical(c.want) {
			t.Fatalf("fromJSONResult(%q) = %v, want %v", c.raw, got, c.want)
		}
	}
}
