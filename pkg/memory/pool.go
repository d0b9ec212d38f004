// Package memory implements the runtime's memory manager: the arena
// allocator, the generic object pool, the string interner, and the
// generational GC described in spec §4.2, composed behind a single
// Manager facade that implements value.Allocator.
package memory

// PoolChunkSize is the number of nodes allocated per slab when an
// ObjectPool's free list is exhausted (spec §4.2: "allocates a new slab
// of CHUNK_SIZE (256) nodes").
const PoolChunkSize = 256

// PoolStats reports pool-efficiency metrics (spec §4.2).
type PoolStats struct {
	Total    int // total slots ever allocated (slabs * PoolChunkSize)
	Recycled int // Acquire calls satisfied from the free list
	Acquired int // total Acquire calls
	Free     int // slots currently on the free list
}

// RecycleRate returns the fraction of Acquire calls satisfied from the
// free list rather than from a fresh slab.
func (s PoolStats) RecycleRate() float64 {
	if s.Acquired == 0 {
		return 0
	}
	return float64(s.Recycled) / float64(s.Acquired)
}

// ObjectPool is a slab allocator with an intrusive free list, doubling
// as the handle table that backs pointer-tagged value.Value words: the
// handle a caller receives from Acquire is a stable index into the
// pool's own slot table, so dereferencing a handle is Get(handle) — no
// separate registry is needed (SPEC_FULL.md §3).
type ObjectPool[T any] struct {
	slots    []*T
	free     []uint32
	resetFn  func(*T)
	total    int
	recycled int
	acquired int
	next     int // index of the first slot never yet handed out
}

// NewObjectPool returns an empty pool. resetFn, if non-nil, is called on
// a slot's payload every time it is handed out by Acquire (both for
// freshly allocated slots and recycled ones), so callers always receive
// a zeroed box regardless of its history.
func NewObjectPool[T any](resetFn func(*T)) *ObjectPool[T] {
	return &ObjectPool[T]{resetFn: resetFn}
}

// Acquire returns a handle and pointer to an available slot: a released
// slot from the free list if there is one, else the next unused slot of
// the current slab, growing the pool by one slab when that is exhausted.
func (p *ObjectPool[T]) Acquire() (uint32, *T) {
	p.acquired++
	if n := len(p.free); n > 0 {
		h := p.free[n-1]
		p.free = p.free[:n-1]
		p.recycled++
		t := p.slots[h]
		if p.resetFn != nil {
			p.resetFn(t)
		}
		return h, t
	}
	if p.next == len(p.slots) {
		slab := make([]T, PoolChunkSize)
		for i := range slab {
			p.slots = append(p.slots, &slab[i])
		}
		p.total += PoolChunkSize
	}
	h := uint32(p.next)
	p.next++
	if p.resetFn != nil {
		p.resetFn(p.slots[h])
	}
	return h, p.slots[h]
}

// Release returns handle to the free list for reuse. The caller must
// have already run any typed destructor on the payload.
func (p *ObjectPool[T]) Release(handle uint32) {
	p.free = append(p.free, handle)
}

// Get dereferences handle without affecting the free list.
func (p *ObjectPool[T]) Get(handle uint32) *T {
	return p.slots[handle]
}

// Stats reports current pool-efficiency metrics.
func (p *ObjectPool[T]) Stats() PoolStats {
	return PoolStats{Total: p.total, Recycled: p.recycled, Acquired: p.acquired, Free: len(p.free)}
}
