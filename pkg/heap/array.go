package heap

import "github.com/corewell/phprt/pkg/value"

// ArrayKey is either an integer or a string key into an Array (spec §3).
// Exactly one of the two fields is meaningful, selected by IsString.
type ArrayKey struct {
	IsString bool
	IntKey   int64
	StrKey   string
}

// IntArrayKey builds an integer ArrayKey.
func IntArrayKey(i int64) ArrayKey { return ArrayKey{IntKey: i} }

// StrArrayKey builds a string ArrayKey.
func StrArrayKey(s string) ArrayKey { return ArrayKey{IsString: true, StrKey: s} }

// Array is an ordered hash map from ArrayKey to value.Value, plus a
// monotonically increasing auto-index used when pushing without an
// explicit key. Iteration order is insertion order (spec §3, spec §8
// testable property), grounded on the teacher's
// pkg/evaluator/fn_ordered_object.go OrderedObject{Keys, Values} shape,
// generalized here to mixed int/string keys and an auto-index cursor.
type Array struct {
	Header
	keys     []ArrayKey          // insertion order
	index    map[ArrayKey]int    // key -> position in keys/vals
	vals     []value.Value
	autoNext int64 // next auto-index used by Push
}

// NewArray returns an empty, retained-count-zero Array box. The caller
// (pkg/memory) is responsible for the initial retain.
func NewArray() *Array {
	return &Array{index: make(map[ArrayKey]int)}
}

// Reset clears an Array box for reuse by pkg/memory's object pool. The
// Header is left to the caller (a freshly Acquired box always needs its
// own RC set).
func (a *Array) Reset() {
	a.keys = a.keys[:0]
	a.vals = a.vals[:0]
	a.autoNext = 0
	if a.index == nil {
		a.index = make(map[ArrayKey]int)
	} else {
		for k := range a.index {
			delete(a.index, k)
		}
	}
}

// Len returns the number of entries currently stored.
func (a *Array) Len() int { return len(a.keys) }

// Get looks up a key; ok is false if the key is absent.
func (a *Array) Get(k ArrayKey) (value.Value, bool) {
	pos, ok := a.index[k]
	if !ok {
		return value.Null, false
	}
	return a.vals[pos], true
}

// Set inserts or overwrites k -> v. On overwrite the caller must have
// already released the old value if it owned a retain on it (Set itself
// does not retain/release — that is the evaluator's responsibility per
// spec §4.4, mirroring how Environment.Set works).
func (a *Array) Set(k ArrayKey, v value.Value) {
	if pos, ok := a.index[k]; ok {
		a.vals[pos] = v
		return
	}
	a.index[k] = len(a.keys)
	a.keys = append(a.keys, k)
	a.vals = append(a.vals, v)
	if k.IsString {
		return
	}
	if k.IntKey >= a.autoNext {
		a.autoNext = k.IntKey + 1
	}
}

// Push appends v under the next auto-index key and returns the key used.
func (a *Array) Push(v value.Value) ArrayKey {
	k := IntArrayKey(a.autoNext)
	a.Set(k, v)
	return k
}

// Delete removes k if present, returning the removed value. Iteration
// order of the remaining entries is preserved.
func (a *Array) Delete(k ArrayKey) (value.Value, bool) {
	pos, ok := a.index[k]
	if !ok {
		return value.Null, false
	}
	old := a.vals[pos]
	a.keys = append(a.keys[:pos], a.keys[pos+1:]...)
	a.vals = append(a.vals[:pos], a.vals[pos+1:]...)
	delete(a.index, k)
	for i := pos; i < len(a.keys); i++ {
		a.index[a.keys[i]] = i
	}
	return old, true
}

// Keys returns the keys in insertion order. The returned slice must not
// be mutated by the caller.
func (a *Array) Keys() []ArrayKey { return a.keys }

// Each calls fn for every entry in insertion order; fn returning false
// stops iteration early (foreach `break`).
func (a *Array) Each(fn func(k ArrayKey, v value.Value) bool) {
	for i, k := range a.keys {
		if !fn(k, a.vals[i]) {
			return
		}
	}
}

// Values returns the values in insertion order. The returned slice must
// not be mutated by the caller.
func (a *Array) Values() []value.Value { return a.vals }
