package memory

import (
	"time"

	"github.com/corewell/phprt/pkg/heap"
	"github.com/corewell/phprt/pkg/value"
	"github.com/prometheus/client_golang/prometheus"
)

// defaultPromotionAge is the survivor age at which collect_young
// promotes an object into the old generation (spec §4.2).
const defaultPromotionAge = 3

// boxRef names a single heap box by pointer tag + handle, the unit the
// GC traces and the remembered set stores.
type boxRef struct {
	Tag    value.PtrTag
	Handle uint32
}

// GCStats mirrors spec §4.2's "Stats record GC count, time, bytes freed,
// promotions, and write-barrier triggers."
type GCStats struct {
	Collections          int64
	TimeNanos            int64
	BytesFreed           int64
	Promotions           int64
	WriteBarrierTriggers int64
}

// GC is the generational, tri-colour-marking collector described in
// spec §4.2. It never owns boxes directly — it traces and sweeps
// through the concrete *Manager that owns the pools.
type GC struct {
	mgr          *Manager
	remembered   map[boxRef]struct{}
	promotionAge uint8
	stats        GCStats

	metricCollections prometheus.Counter
	metricBytesFreed  prometheus.Counter
	metricPromotions  prometheus.Counter
	metricWriteBarrier prometheus.Counter
}

// NewGC returns a GC bound to mgr with the default promotion age.
func NewGC(reg prometheus.Registerer, mgr *Manager) *GC {
	g := &GC{
		mgr:          mgr,
		remembered:   make(map[boxRef]struct{}),
		promotionAge: defaultPromotionAge,
		metricCollections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "phprt_gc_collections_total", Help: "Number of GC collections run.",
		}),
		metricBytesFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "phprt_gc_bytes_freed_total", Help: "Approximate bytes reclaimed by GC sweeps.",
		}),
		metricPromotions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "phprt_gc_promotions_total", Help: "Number of objects promoted from young to old generation.",
		}),
		metricWriteBarrier: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "phprt_gc_write_barrier_triggers_total", Help: "Number of old-to-young pointer stores recorded in the remembered set.",
		}),
	}
	if reg != nil {
		reg.MustRegister(g.metricCollections, g.metricBytesFreed, g.metricPromotions, g.metricWriteBarrier)
	}
	return g
}

// SetPromotionAge overrides the default survivor age for promotion.
func (g *GC) SetPromotionAge(age uint8) { g.promotionAge = age }

// Stats returns a snapshot of the collector's running totals.
func (g *GC) Stats() GCStats { return g.stats }

// RememberedSetSize reports the number of old-generation boxes currently
// tracked as holding old->young pointers, for diagnostics and for
// pkg/gcpolicy's memory-usage snapshot.
func (g *GC) RememberedSetSize() int { return len(g.remembered) }

// header returns the Header of the box named by ref.
func (g *GC) header(ref boxRef) *heap.Header {
	switch ref.Tag {
	case value.PtrArray:
		return &g.mgr.arrays.Get(ref.Handle).Header
	case value.PtrObject:
		return &g.mgr.objects.Get(ref.Handle).Header
	case value.PtrStruct:
		return &g.mgr.structs.Get(ref.Handle).Header
	case value.PtrClosure:
		return &g.mgr.closures.Get(ref.Handle).Header
	default:
		return nil // only container-capable kinds participate in tracing
	}
}

// children returns every pointer-tagged Value directly reachable from
// ref, i.e. one level of graph edges.
func (g *GC) children(ref boxRef) []value.Value {
	switch ref.Tag {
	case value.PtrArray:
		return g.mgr.arrays.Get(ref.Handle).Values()
	case value.PtrObject:
		return g.mgr.objects.Get(ref.Handle).Slots
	case value.PtrStruct:
		return g.mgr.structs.Get(ref.Handle).Fields
	case value.PtrClosure:
		c := g.mgr.closures.Get(ref.Handle)
		out := make([]value.Value, 0, len(c.Captures)+2)
		out = append(out, c.Function, c.Receiver)
		for _, cap := range c.Captures {
			if cap.Mode == heap.ByValue {
				out = append(out, cap.Value)
			} else if cap.Cell != nil {
				out = append(out, *cap.Cell)
			}
		}
		return out
	default:
		return nil
	}
}

// traceable reports whether tag is one of the container-capable kinds
// the GC traces (strings/resources/functions cannot form cycles).
func traceable(tag value.PtrTag) bool {
	switch tag {
	case value.PtrArray, value.PtrObject, value.PtrStruct, value.PtrClosure:
		return true
	default:
		return false
	}
}

// WriteBarrierIfNeeded inserts owner into the remembered set when owner
// is an old-generation box and child is a young-generation pointer
// (spec §4.2 "write barrier that inserts into the remembered set on
// old→young stores"). Called from every mutation entry point that
// stores a Value into a container (Manager.ArraySet, Manager.ObjectSetSlot, …).
func (g *GC) WriteBarrierIfNeeded(owner boxRef, child value.Value) {
	if !traceable(owner.Tag) {
		return
	}
	oh := g.header(owner)
	if oh == nil || oh.Gen != heap.Old {
		return
	}
	if !child.IsPointer() || !traceable(child.PtrTag()) {
		return
	}
	ch := g.header(boxRef{child.PtrTag(), child.Handle()})
	if ch == nil || ch.Gen != heap.Young {
		return
	}
	g.remembered[owner] = struct{}{}
	g.stats.WriteBarrierTriggers++
	g.metricWriteBarrier.Inc()
}

// forEachTraceable calls fn for every live slot across the four
// container-capable pools whose generation matches gen (or every live
// slot if includeAll is true).
func (g *GC) forEachTraceable(gen heap.Generation, includeAll bool, fn func(ref boxRef, h *heap.Header)) {
	visit := func(tag value.PtrTag, n int, get func(uint32) *heap.Header) {
		for i := 0; i < n; i++ {
			h := get(uint32(i))
			if h.RC == 0 {
				continue // already-freed slot sitting on the pool free list
			}
			if includeAll || h.Gen == gen {
				fn(boxRef{tag, uint32(i)}, h)
			}
		}
	}
	visit(value.PtrArray, len(g.mgr.arrays.slots), func(h uint32) *heap.Header { return &g.mgr.arrays.Get(h).Header })
	visit(value.PtrObject, len(g.mgr.objects.slots), func(h uint32) *heap.Header { return &g.mgr.objects.Get(h).Header })
	visit(value.PtrStruct, len(g.mgr.structs.slots), func(h uint32) *heap.Header { return &g.mgr.structs.Get(h).Header })
	visit(value.PtrClosure, len(g.mgr.closures.slots), func(h uint32) *heap.Header { return &g.mgr.closures.Get(h).Header })
}

// CollectYoung runs a minor collection: marks from GC roots and the
// remembered set, promotes survivors whose age reaches the promotion
// threshold into the old generation, and frees unmarked young objects
// (spec §4.2, §8 GC-soundness property).
func (g *GC) CollectYoung() { g.collect(false) }

// CollectFull runs a full collection, additionally scanning the old
// generation for both tracing and sweeping (spec §4.2 "Full collection
// additionally scans the old set.").
func (g *GC) CollectFull() { g.collect(true) }

func (g *GC) collect(full bool) {
	start := time.Now()

	g.forEachTraceable(heap.Young, full, func(_ boxRef, h *heap.Header) {
		h.Color = heap.White
	})

	var gray []boxRef
	visited := make(map[boxRef]bool)
	pushChild := func(child value.Value) {
		if !child.IsPointer() || !traceable(child.PtrTag()) {
			return
		}
		ref := boxRef{child.PtrTag(), child.Handle()}
		h := g.header(ref)
		if h == nil {
			return
		}
		if !full && h.Gen != heap.Young {
			return // minor collection only traces into the young generation
		}
		if !visited[ref] {
			gray = append(gray, ref)
		}
	}

	if g.mgr.rootsFn != nil {
		for _, v := range g.mgr.rootsFn() {
			pushChild(v)
		}
	}
	for owner := range g.remembered {
		for _, child := range g.children(owner) {
			pushChild(child)
		}
	}

	var promoted int64
	for len(gray) > 0 {
		ref := gray[len(gray)-1]
		gray = gray[:len(gray)-1]
		if visited[ref] {
			continue
		}
		visited[ref] = true
		h := g.header(ref)
		if h == nil {
			continue
		}
		h.Color = heap.Black
		if h.Gen == heap.Young {
			h.Age++
			if h.Age >= g.promotionAge {
				h.Gen = heap.Old
				promoted++
				g.remembered[ref] = struct{}{}
			}
		}
		for _, child := range g.children(ref) {
			pushChild(child)
		}
	}

	var freed, bytesFreed int64
	g.forEachTraceable(heap.Young, full, func(ref boxRef, h *heap.Header) {
		if h.Color != heap.White {
			return
		}
		// Unreached by the trace despite RC > 0: a genuinely unreachable
		// cycle (refcounting alone cannot break a cycle; that is exactly
		// what this collector is for — spec §9 Cyclic object graphs).
		// Children that are themselves part of this unreachable group
		// (still White) are left alone — they get their own forced free
		// in this same sweep pass, and releasing them here too would
		// double-free their pool slot. Children reachable some other way
		// (Black) or not GC-traced at all (strings, resources, functions)
		// get a real release so their external refcount stays correct.
		for _, child := range g.children(ref) {
			if !child.IsPointer() {
				continue
			}
			if traceable(child.PtrTag()) {
				if ch := g.header(boxRef{child.PtrTag(), child.Handle()}); ch != nil && ch.Color == heap.White {
					continue
				}
			}
			child.Release(g.mgr)
		}
		h.RC = 0
		freed++
		bytesFreed += boxApproxSize(ref.Tag)
		g.freeSlot(ref)
		delete(g.remembered, ref)
	})

	g.stats.Collections++
	g.stats.TimeNanos += time.Since(start).Nanoseconds()
	g.stats.BytesFreed += bytesFreed
	g.stats.Promotions += promoted
	g.metricCollections.Inc()
	g.metricBytesFreed.Add(float64(bytesFreed))
	g.metricPromotions.Add(float64(promoted))
}

func (g *GC) freeSlot(ref boxRef) {
	switch ref.Tag {
	case value.PtrArray:
		g.mgr.arrays.Release(ref.Handle)
	case value.PtrObject:
		g.mgr.objects.Release(ref.Handle)
	case value.PtrStruct:
		g.mgr.structs.Release(ref.Handle)
	case value.PtrClosure:
		g.mgr.closures.Release(ref.Handle)
	}
}

// boxApproxSize is a rough per-kind size estimate used only for the
// BytesFreed stat; it need not be exact.
func boxApproxSize(tag value.PtrTag) int64 {
	switch tag {
	case value.PtrArray:
		return 64
	case value.PtrObject:
		return 48
	case value.PtrStruct:
		return 48
	case value.PtrClosure:
		return 64
	default:
		return 32
	}
}
