package value

import "strconv"

// formatInt renders an int32 the same way for every representable value,
// so ToString(OfInt(i)) round-trips through strconv.ParseInt (spec §8
// Round-trip property).
func formatInt(i int32) string {
	return strconv.FormatInt(int64(i), 10)
}

// formatFloat renders a float64 using the shortest representation that
// round-trips exactly through strconv.ParseFloat, matching PHP's
// precision-preserving float-to-string behavior closely enough for the
// round-trip testable property.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// ParseInt parses a decimal string back to an int32, the inverse of
// formatInt, used by the evaluator's numeric-string coercion rules.
func ParseInt(s string) (int32, bool) {
	i, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(i), true
}

// ParseFloat parses a decimal string back to a float64, the inverse of
// formatFloat.
func ParseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
