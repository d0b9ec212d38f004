package stdlib

import (
	"strconv"
	"strings"

	"github.com/corewell/phprt/pkg/value"
)

// typeFunctions is the "Boolean functions" + type-introspection category
// of the teacher's catalogue comment (boolean/not/exists, generalized to
// PHP's gettype/is_*() family — the runtime's own dynamic-typing surface,
// spec §3's value-kind taxonomy made queryable from script).
func typeFunctions() []entry {
	return []entry{
		{"gettype", biGettype, 1, 1},
		{"is_null", biIsNull, 1, 1},
		{"is_bool", biIsBool, 1, 1},
		{"is_int", biIsInt, 1, 1},
		{"is_float", biIsFloat, 1, 1},
		{"is_string", biIsString, 1, 1},
		{"is_array", biIsArray, 1, 1},
		{"is_object", biIsObject, 1, 1},
		{"is_callable", biIsCallable, 1, 1},
		{"is_numeric", biIsNumeric, 1, 1},
		{"boolval", biBoolval, 1, 1},
	}
}

func biGettype(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	a := args[0]
	var t string
	switch {
	case a.IsNull():
		t = "NULL"
	case a.IsBool():
		t = "boolean"
	case a.IsInt():
		t = "integer"
	case a.IsFloat():
		t = "double"
	case a.IsString():
		t = "string"
	case a.IsArray():
		t = "array"
	case a.IsObject():
		t = "object"
	case a.IsCallable():
		t = "object" // closures are first-class objects in PHP's gettype()
	default:
		t = "unknown type"
	}
	return v.Mem.NewString([]byte(t)), nil
}

func biIsNull(ctx interface{}, args []value.Value) (value.Value, error) { return value.OfBool(args[0].IsNull()), nil }
func biIsBool(ctx interface{}, args []value.Value) (value.Value, error) { return value.OfBool(args[0].IsBool()), nil }
func biIsInt(ctx interface{}, args []value.Value) (value.Value, error) { return value.OfBool(args[0].IsInt()), nil }
func biIsFloat(ctx interface{}, args []value.Value) (value.Value, error) {
	return value.OfBool(args[0].IsFloat()), nil
}
func biIsString(ctx interface{}, args []value.Value) (value.Value, error) {
	return value.OfBool(args[0].IsString()), nil
}
func biIsArray(ctx interface{}, args []value.Value) (value.Value, error) {
	return value.OfBool(args[0].IsArray()), nil
}
func biIsObject(ctx interface{}, args []value.Value) (value.Value, error) {
	return value.OfBool(args[0].IsObject()), nil
}
func biIsCallable(ctx interface{}, args []value.Value) (value.Value, error) {
	return value.OfBool(args[0].IsCallable()), nil
}
func biIsNumeric(ctx interface{}, args []value.Value) (value.Value, error) {
	a := args[0]
	if a.IsNumber() {
		return value.True, nil
	}
	if !a.IsString() {
		return value.False, nil
	}
	v := asVM(ctx)
	s := strings.TrimSpace(a.ToString(v.Mem))
	if s == "" {
		return value.False, nil
	}
	_, err := strconv.ParseFloat(s, 64)
	return value.OfBool(err == nil), nil
}

func biBoolval(ctx interface{}, args []value.Value) (value.Value, error) {
	return value.OfBool(args[0].ToBool()), nil
}
