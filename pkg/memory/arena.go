package memory

import "unsafe"

// arenaMinChunkBytes is the minimum chunk size for an Arena's backing
// slabs (spec §4.2: "singly-linked chunks of >=64 KiB").
const arenaMinChunkBytes = 64 * 1024

type arenaChunk[T any] struct {
	items []T
	pos   int
}

// Arena is a bump-pointer allocator over chunks of T, used for
// per-request lifetimes (spec §4.2). Alloc bumps the current chunk's
// offset; on overflow a new chunk is linked. Reset rewinds every
// chunk's offset without freeing backing storage, so a request arena can
// be recycled without reallocating its slabs on the next request.
// FreeAll releases every chunk.
//
// Grounded on the teacher's pkg/types.NodeArena bump allocator,
// generalized from a single fixed payload type to any T via generics,
// and sized so each chunk holds at least arenaMinChunkBytes worth of T.
//
// Not safe for concurrent use; each request owns its own Arena (or pulls
// one from an Arena pool — see pkg/httpserver).
type Arena[T any] struct {
	chunks   []*arenaChunk[T]
	cur      int
	chunkLen int
}

// NewArena returns an Arena with one pre-warmed chunk.
func NewArena[T any]() *Arena[T] {
	var zero T
	sz := int(unsafe.Sizeof(zero))
	if sz == 0 {
		sz = 1
	}
	n := arenaMinChunkBytes / sz
	if n < 1 {
		n = 1
	}
	a := &Arena[T]{chunkLen: n}
	a.chunks = append(a.chunks, &arenaChunk[T]{items: make([]T, n)})
	return a
}

// Alloc returns a pointer to the next zero-valued T in the arena,
// linking a fresh chunk if the current one is exhausted.
func (a *Arena[T]) Alloc() *T {
	c := a.chunks[a.cur]
	if c.pos >= len(c.items) {
		a.cur++
		if a.cur == len(a.chunks) {
			a.chunks = append(a.chunks, &arenaChunk[T]{items: make([]T, a.chunkLen)})
		}
		c = a.chunks[a.cur]
	}
	p := &c.items[c.pos]
	c.pos++
	return p
}

// Reset rewinds every chunk's offset to zero without releasing backing
// storage, so subsequent Alloc calls reuse the existing slabs.
func (a *Arena[T]) Reset() {
	for _, c := range a.chunks {
		c.pos = 0
		var zero T
		for i := range c.items {
			c.items[i] = zero
		}
	}
	a.cur = 0
}

// FreeAll releases every chunk. The Arena is left usable: FreeAll
// re-warms it with one fresh chunk.
func (a *Arena[T]) FreeAll() {
	a.chunks = a.chunks[:0]
	a.cur = 0
	a.chunks = append(a.chunks, &arenaChunk[T]{items: make([]T, a.chunkLen)})
}

// Len reports the number of chunks currently linked, for diagnostics.
func (a *Arena[T]) Len() int { return len(a.chunks) }
