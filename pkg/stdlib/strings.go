package stdlib

import (
	"strings"

	"github.com/corewell/phprt/pkg/heap"
	"github.com/corewell/phprt/pkg/rterror"
	"github.com/corewell/phprt/pkg/value"
)

// stringFunctions is the "String functions" category of the teacher's
// catalogue comment (pkg/functions/registry.go), generalized to PHP's
// string builtins a tree-walking evaluator needs for spec §8 scenario 2
// (string concatenation already lives in pkg/vm's `.` operator; these
// are the explicit function-call forms).
func stringFunctions() []entry {
	return []entry{
		{"strlen", biStrlen, 1, 1},
		{"strtoupper", biStrtoupper, 1, 1},
		{"strtolower", biStrtolower, 1, 1},
		{"trim", biTrim, 1, 1},
		{"substr", biSubstr, 2, 3},
		{"str_repeat", biStrRepeat, 2, 2},
		{"str_contains", biStrContains, 2, 2},
		{"str_replace", biStrReplace, 3, 3},
		{"implode", biImplode, 1, 2},
		{"explode", biExplode, 2, 2},
	}
}

func biStrlen(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	s := args[0].ToString(v.Mem)
	return value.OfInt(int32(len(s))), nil
}

func biStrtoupper(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	s := args[0].ToString(v.Mem)
	return v.Mem.NewString([]byte(strings.ToUpper(s))), nil
}

func biStrtolower(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	s := args[0].ToString(v.Mem)
	return v.Mem.NewString([]byte(strings.ToLower(s))), nil
}

func biTrim(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	s := args[0].ToString(v.Mem)
	return v.Mem.NewString([]byte(strings.TrimSpace(s))), nil
}

func biSubstr(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	s := args[0].ToString(v.Mem)
	start := clampIndex(int(toInt(args[1])), len(s))
	length := len(s) - start
	if len(args) == 3 {
		length = int(toInt(args[2]))
		if length < 0 {
			length = len(s) - start + length
		}
	}
	end := start + length
	if end > len(s) {
		end = len(s)
	}
	if end < start {
		end = start
	}
	return v.Mem.NewString([]byte(s[start:end])), nil
}

func clampIndex(i, length int) int {
	if i < 0 {
		i += length
		if i < 0 {
			i = 0
		}
	}
	if i > length {
		i = length
	}
	return i
}

func biStrRepeat(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	s := args[0].ToString(v.Mem)
	n := int(toInt(args[1]))
	if n < 0 {
		return value.Null, rterror.TypeErrorf("", 0, "str_repeat(): Argument #2 ($times) must be greater than or equal to 0")
	}
	return v.Mem.NewString([]byte(strings.Repeat(s, n))), nil
}

func biStrContains(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	haystack := args[0].ToString(v.Mem)
	needle := args[1].ToString(v.Mem)
	return value.OfBool(strings.Contains(haystack, needle)), nil
}

func biStrReplace(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	search := args[0].ToString(v.Mem)
	replace := args[1].ToString(v.Mem)
	subject := args[2].ToString(v.Mem)
	return v.Mem.NewString([]byte(strings.ReplaceAll(subject, search, replace))), nil
}

func biImplode(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	sep := ""
	arr := args[0]
	if len(args) == 2 {
		sep = args[0].ToString(v.Mem)
		arr = args[1]
	}
	if !arr.IsArray() {
		return value.Null, rterror.TypeErrorf("", 0, "implode(): Argument must be an array")
	}
	a := v.Mem.ArrayAt(arr.Handle())
	var parts []string
	a.Each(func(_ heap.ArrayKey, val value.Value) bool {
		parts = append(parts, val.ToString(v.Mem))
		return true
	})
	return v.Mem.NewString([]byte(strings.Join(parts, sep))), nil
}

func biExplode(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	sep := args[0].ToString(v.Mem)
	subject := args[1].ToString(v.Mem)
	parts := strings.Split(subject, sep)
	result := v.Mem.NewArrayValue()
	h := result.Handle()
	for _, p := range parts {
		sv := v.Mem.NewString([]byte(p))
		v.Mem.ArrayPush(h, sv)
		sv.Release(v.Mem)
	}
	return result, nil
}
