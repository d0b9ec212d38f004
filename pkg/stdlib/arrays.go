package stdlib

import (
	"context"
	"sort"

	"github.com/corewell/phprt/pkg/heap"
	"github.com/corewell/phprt/pkg/rterror"
	"github.com/corewell/phprt/pkg/value"
)

// arrayFunctions is the "Array functions" category of the teacher's
// catalogue comment (append, reverse, sort, ...), generalized from
// JSONata's sequence-transform builtins to PHP's array builtins.
func arrayFunctions() []entry {
	return []entry{
		{"count", biCount, 1, 1},
		{"array_push", biArrayPush, 2, -1},
		{"array_pop", biArrayPop, 1, 1},
		{"array_keys", biArrayKeys, 1, 1},
		{"array_values", biArrayValues, 1, 1},
		{"array_merge", biArrayMerge, 1, -1},
		{"array_reverse", biArrayReverse, 1, 1},
		{"in_array", biInArray, 2, 2},
		{"array_map", biArrayMap, 2, 2},
		{"array_filter", biArrayFilter, 1, 2},
		{"array_reduce", biArrayReduce, 2, 3},
		{"sort", biSort, 1, 1},
	}
}

func requireArray(v value.Value, fn string) error {
	if !v.IsArray() {
		return rterror.TypeErrorf("", 0, "%s(): Argument must be of type array", fn)
	}
	return nil
}

func biCount(ctx interface{}, args []value.Value) (value.Value, error) {
	if err := requireArray(args[0], "count"); err != nil {
		return value.Null, err
	}
	v := asVM(ctx)
	return value.OfInt(int32(v.Mem.ArrayAt(args[0].Handle()).Len())), nil
}

// biArrayPush appends args[1:] to the array args[0] in place and
// returns the new length, mirroring PHP's by-reference semantics
// (pkg/vm's caller passes the array Value itself, not a copy, since
// arrays are pointer-tagged boxes per spec §3).
func biArrayPush(ctx interface{}, args []value.Value) (value.Value, error) {
	if err := requireArray(args[0], "array_push"); err != nil {
		return value.Null, err
	}
	v := asVM(ctx)
	h := args[0].Handle()
	for _, item := range args[1:] {
		v.Mem.ArrayPush(h, item)
	}
	return value.OfInt(int32(v.Mem.ArrayAt(h).Len())), nil
}

func biArrayPop(ctx interface{}, args []value.Value) (value.Value, error) {
	if err := requireArray(args[0], "array_pop"); err != nil {
		return value.Null, err
	}
	v := asVM(ctx)
	a := v.Mem.ArrayAt(args[0].Handle())
	keys := a.Keys()
	if len(keys) == 0 {
		return value.Null, nil
	}
	last := keys[len(keys)-1]
	got, _ := a.Get(last)
	got.Retain(v.Mem) // ArrayDelete releases its own reference to got below
	v.Mem.ArrayDelete(args[0].Handle(), last)
	return got, nil
}

func biArrayKeys(ctx interface{}, args []value.Value) (value.Value, error) {
	if err := requireArray(args[0], "array_keys"); err != nil {
		return value.Null, err
	}
	v := asVM(ctx)
	a := v.Mem.ArrayAt(args[0].Handle())
	out := v.Mem.NewArrayValue()
	h := out.Handle()
	for _, k := range a.Keys() {
		kv := v.KeyValue(k)
		v.Mem.ArrayPush(h, kv)
		kv.Release(v.Mem)
	}
	return out, nil
}

func biArrayValues(ctx interface{}, args []value.Value) (value.Value, error) {
	if err := requireArray(args[0], "array_values"); err != nil {
		return value.Null, err
	}
	v := asVM(ctx)
	a := v.Mem.ArrayAt(args[0].Handle())
	out := v.Mem.NewArrayValue()
	h := out.Handle()
	a.Each(func(_ heap.ArrayKey, val value.Value) bool {
		v.Mem.ArrayPush(h, val)
		return true
	})
	return out, nil
}

func biArrayMerge(ctx interface{}, args []value.Value) (value.Value, error) {
	v := asVM(ctx)
	out := v.Mem.NewArrayValue()
	h := out.Handle()
	for _, arg := range args {
		if err := requireArray(arg, "array_merge"); err != nil {
			out.Release(v.Mem)
			return value.Null, err
		}
		a := v.Mem.ArrayAt(arg.Handle())
		a.Each(func(k heap.ArrayKey, val value.Value) bool {
			if k.IsString {
				v.Mem.ArraySet(h, k, val)
			} else {
				v.Mem.ArrayPush(h, val)
			}
			return true
		})
	}
	return out, nil
}

func biArrayReverse(ctx interface{}, args []value.Value) (value.Value, error) {
	if err := requireArray(args[0], "array_reverse"); err != nil {
		return value.Null, err
	}
	v := asVM(ctx)
	a := v.Mem.ArrayAt(args[0].Handle())
	keys := a.Keys()
	out := v.Mem.NewArrayValue()
	h := out.Handle()
	for i := len(keys) - 1; i >= 0; i-- {
		val, _ := a.Get(keys[i])
		if keys[i].IsString {
			v.Mem.ArraySet(h, keys[i], val)
		} else {
			v.Mem.ArrayPush(h, val)
		}
	}
	return out, nil
}

func biInArray(ctx interface{}, args []value.Value) (value.Value, error) {
	if err := requireArray(args[1], "in_array"); err != nil {
		return value.Null, err
	}
	v := asVM(ctx)
	needle := args[0]
	a := v.Mem.ArrayAt(args[1].Handle())
	found := false
	a.Each(func(_ heap.ArrayKey, val value.Value) bool {
		if v.LooseEquals(needle, val) {
			found = true
			return false
		}
		return true
	})
	return value.OfBool(found), nil
}

// biArrayMap applies the callable args[0] to every element of args[1],
// preserving keys, grounded on the teacher's higher-order-function
// category (map/filter/reduce).
func biArrayMap(ctx interface{}, args []value.Value) (value.Value, error) {
	if err := requireArray(args[1], "array_map"); err != nil {
		return value.Null, err
	}
	v := asVM(ctx)
	callee := args[0]
	a := v.Mem.ArrayAt(args[1].Handle())
	out := v.Mem.NewArrayValue()
	h := out.Handle()
	var callErr error
	a.Each(func(k heap.ArrayKey, val value.Value) bool {
		val.Retain(v.Mem) // Each borrows val; CallValue's args are consumed
		result, err := v.CallValue(context.Background(), callee, []value.Value{val})
		if err != nil {
			callErr = err
			return false
		}
		v.Mem.ArraySet(h, k, result)
		result.Release(v.Mem)
		return true
	})
	if callErr != nil {
		out.Release(v.Mem)
		return value.Null, callErr
	}
	return out, nil
}

// biArrayFilter keeps elements for which the optional predicate (args[1])
// is truthy, or for which the element itself is truthy when no predicate
// is given (PHP's no-callback array_filter semantics).
func biArrayFilter(ctx interface{}, args []value.Value) (value.Value, error) {
	if err := requireArray(args[0], "array_filter"); err != nil {
		return value.Null, err
	}
	v := asVM(ctx)
	a := v.Mem.ArrayAt(args[0].Handle())
	out := v.Mem.NewArrayValue()
	h := out.Handle()
	var callErr error
	a.Each(func(k heap.ArrayKey, val value.Value) bool {
		keep := val.ToBool()
		if len(args) == 2 {
			val.Retain(v.Mem)
			result, err := v.CallValue(context.Background(), args[1], []value.Value{val})
			if err != nil {
				callErr = err
				return false
			}
			keep = result.ToBool()
			result.Release(v.Mem)
		}
		if keep {
			v.Mem.ArraySet(h, k, val)
		}
		return true
	})
	if callErr != nil {
		out.Release(v.Mem)
		return value.Null, callErr
	}
	return out, nil
}

// biArrayReduce folds args[0] with the callable args[1], starting from
// the optional initial value args[2] (defaulting to null).
func biArrayReduce(ctx interface{}, args []value.Value) (value.Value, error) {
	if err := requireArray(args[0], "array_reduce"); err != nil {
		return value.Null, err
	}
	v := asVM(ctx)
	callee := args[1]
	acc := value.Null
	if len(args) == 3 {
		acc = args[2]
		acc.Retain(v.Mem)
	}
	a := v.Mem.ArrayAt(args[0].Handle())
	var callErr error
	a.Each(func(_ heap.ArrayKey, val value.Value) bool {
		acc.Retain(v.Mem) // acc is consumed as an arg; the loop keeps its own reference below
		val.Retain(v.Mem)
		result, err := v.CallValue(context.Background(), callee, []value.Value{acc, val})
		if err != nil {
			callErr = err
			return false
		}
		acc.Release(v.Mem)
		acc = result
		return true
	})
	if callErr != nil {
		acc.Release(v.Mem)
		return value.Null, callErr
	}
	return acc, nil
}

// biSort reindexes args[0] in place by ascending loose comparison,
// discarding string keys (PHP's sort() semantics: "keys are re-indexed
// in a numerically sequential way").
func biSort(ctx interface{}, args []value.Value) (value.Value, error) {
	if err := requireArray(args[0], "sort"); err != nil {
		return value.Null, err
	}
	v := asVM(ctx)
	h := args[0].Handle()
	a := v.Mem.ArrayAt(h)
	vals := make([]value.Value, 0, a.Len())
	a.Each(func(_ heap.ArrayKey, val value.Value) bool {
		val.Retain(v.Mem)
		vals = append(vals, val)
		return true
	})
	sort.SliceStable(vals, func(i, j int) bool { return toFloat(vals[i]) < toFloat(vals[j]) })
	for _, k := range a.Keys() {
		v.Mem.ArrayDelete(h, k)
	}
	for _, val := range vals {
		v.Mem.ArrayPush(h, val)
		val.Release(v.Mem)
	}
	return value.True, nil
}
