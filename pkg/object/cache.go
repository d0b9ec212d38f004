package object

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/corewell/phprt/pkg/heap"
)

// defaultInlineCacheSize bounds the number of (shape, property) ->
// slot entries retained; sized generously since entries are a few
// words each and property-access is the hottest path in the evaluator.
const defaultInlineCacheSize = 4096

// icKey is the inline-cache key described in spec §4.3: "keyed by
// (shape_id, property_name)". gen is folded in so InvalidateShape can
// invalidate every entry for a shape in O(1) without walking or
// resizing the LRU itself — a stale entry simply stops matching the
// current generation and ages out under LRU pressure like any other
// entry (spec §4.3 "invalidated for a given shape_id when that shape
// is mutated in ways that break the layout").
type icKey struct {
	shape heap.ShapeID
	name  string
	gen   uint32
}

// InlineCache is the evaluator's (shape, property) -> slot-offset
// cache, backed by an LRU so a long-running process with many
// short-lived shapes doesn't grow the cache without bound.
type InlineCache struct {
	cache *lru.Cache[icKey, int]
	gens  map[heap.ShapeID]uint32
}

// NewInlineCache returns an inline cache holding at most size entries.
func NewInlineCache(size int) *InlineCache {
	c, err := lru.New[icKey, int](size)
	if err != nil {
		// Only returned for size <= 0, which defaultInlineCacheSize
		// never passes; callers that build their own sizes get a
		// working minimal cache instead of a panic.
		c, _ = lru.New[icKey, int](1)
	}
	return &InlineCache{cache: c, gens: make(map[heap.ShapeID]uint32)}
}

func (c *InlineCache) key(shape heap.ShapeID, name string) icKey {
	return icKey{shape: shape, name: name, gen: c.gens[shape]}
}

// Lookup returns the cached slot offset for (shape, name), if present
// and not since invalidated.
func (c *InlineCache) Lookup(shape heap.ShapeID, name string) (int, bool) {
	return c.cache.Get(c.key(shape, name))
}

// Store records that (shape, name) resolves to slot.
func (c *InlineCache) Store(shape heap.ShapeID, name string, slot int) {
	c.cache.Add(c.key(shape, name), slot)
}

// InvalidateShape bumps shape's generation, making every previously
// cached entry for it permanently unreachable (spec §4.3 cache
// invalidation).
func (c *InlineCache) InvalidateShape(shape heap.ShapeID) {
	c.gens[shape]++
}
