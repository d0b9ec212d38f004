package stdlib

import (
	"math"

	"github.com/corewell/phprt/pkg/rterror"
	"github.com/corewell/phprt/pkg/value"
)

// toInt coerces a scalar Value to an int32: bool/int pass through,
// float truncates toward zero, anything else yields 0. Strings are not
// parsed, so a numeric string also yields 0 (unlike pkg/vm/eval.go's
// coerceNumeric, which reads the String box through the Manager).
func toInt(v value.Value) int32 {
	return int32(toFloat(v))
}

// toFloat coerces a scalar Value to float64, covering int/float/bool;
// every other Value (null, strings, arrays, objects) coerces to 0.
func toFloat(v value.Value) float64 {
	switch {
	case v.IsInt():
		return float64(v.AsInt())
	case v.IsFloat():
		return v.AsFloat()
	case v.IsBool():
		if v.ToBool() {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// numericFunctions is the "Numeric functions" category of the
// teacher's catalogue comment, generalized from JSONata's
// sum/count/max/min/round to PHP's scalar math builtins.
func numericFunctions() []entry {
	return []entry{
		{"abs", biAbs, 1, 1},
		{"floor", biFloor, 1, 1},
		{"ceil", biCeil, 1, 1},
		{"round", biRound, 1, 2},
		{"max", biMax, 1, -1},
		{"min", biMin, 1, -1},
		{"intval", biIntval, 1, 1},
		{"floatval", biFloatval, 1, 1},
		{"pow", biPow, 2, 2},
		{"sqrt", biSqrt, 1, 1},
	}
}

func biAbs(ctx interface{}, args []value.Value) (value.Value, error) {
	a := args[0]
	if a.IsInt() {
		n := a.AsInt()
		if n < 0 {
			n = -n
		}
		return value.OfInt(n), nil
	}
	return value.OfFloat(math.Abs(toFloat(a))), nil
}

func biFloor(ctx interface{}, args []value.Value) (value.Value, error) {
	return value.OfFloat(math.Floor(toFloat(args[0]))), nil
}

func biCeil(ctx interface{}, args []value.Value) (value.Value, error) {
	return value.OfFloat(math.Ceil(toFloat(args[0]))), nil
}

func biRound(ctx interface{}, args []value.Value) (value.Value, error) {
	precision := 0
	if len(args) == 2 {
		precision = int(toInt(args[1]))
	}
	scale := math.Pow(10, float64(precision))
	return value.OfFloat(math.Round(toFloat(args[0])*scale) / scale), nil
}

// biMax and biMin return one of their arguments verbatim; since
// callNativeFunction releases every arg Value after Fn returns
// (pkg/vm/call.go releaseAll), the selected Value needs its own retain
// so the caller's ownership of the result survives that release.
func biMax(ctx interface{}, args []value.Value) (value.Value, error) {
	best := args[0]
	for _, a := range args[1:] {
		if toFloat(a) > toFloat(best) {
			best = a
		}
	}
	best.Retain(asVM(ctx).Mem)
	return best, nil
}

func biMin(ctx interface{}, args []value.Value) (value.Value, error) {
	best := args[0]
	for _, a := range args[1:] {
		if toFloat(a) < toFloat(best) {
			best = a
		}
	}
	best.Retain(asVM(ctx).Mem)
	return best, nil
}

func biIntval(ctx interface{}, args []value.Value) (value.Value, error) {
	return value.OfInt(toInt(args[0])), nil
}

func biFloatval(ctx interface{}, args []value.Value) (value.Value, error) {
	return value.OfFloat(toFloat(args[0])), nil
}

func biPow(ctx interface{}, args []value.Value) (value.Value, error) {
	return value.OfFloat(math.Pow(toFloat(args[0]), toFloat(args[1]))), nil
}

func biSqrt(ctx interface{}, args []value.Value) (value.Value, error) {
	f := toFloat(args[0])
	if f < 0 {
		return value.Null, rterror.TypeErrorf("", 0, "sqrt(): Argument must be non-negative")
	}
	return value.OfFloat(math.Sqrt(f)), nil
}
