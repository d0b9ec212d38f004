package memory

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Interner is a hash table keyed by string bytes; the value is a handle
// into the Manager's string pool (spec §4.2). The refcount is the String
// box's own: Manager.InternString looks a string up here (Insert on a
// miss) and retains the shared box, and the Manager's release path calls
// Evict once that box's refcount reaches zero.
//
// Grounded on the teacher's pkg/cache.Cache (sync.RWMutex + map,
// container/list LRU), adapted from recency-based eviction to
// refcount-to-zero eviction since interned strings must live exactly as
// long as something holds a Value referencing them.
type Interner struct {
	mu    sync.RWMutex
	table map[string]uint32 // content -> string-pool handle

	hits, misses uint64
	bytesSaved   uint64

	metricHits       prometheus.Counter
	metricMisses     prometheus.Counter
	metricBytesSaved prometheus.Counter
}

// NewInterner returns an empty Interner. If reg is non-nil the interner
// registers its Prometheus counters on it (SPEC_FULL.md §4.2); a nil
// registry is valid and simply skips metrics exposition.
func NewInterner(reg prometheus.Registerer) *Interner {
	in := &Interner{table: make(map[string]uint32)}
	in.metricHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phprt_interner_hits_total",
		Help: "Number of Intern calls served from the existing table entry.",
	})
	in.metricMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phprt_interner_misses_total",
		Help: "Number of Intern calls that allocated a new string box.",
	})
	in.metricBytesSaved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phprt_interner_bytes_saved_total",
		Help: "Cumulative byte length of strings served from the intern table instead of reallocated.",
	})
	if reg != nil {
		reg.MustRegister(in.metricHits, in.metricMisses, in.metricBytesSaved)
	}
	return in
}

// Lookup returns the handle already interned for s, if any, without
// allocating. The caller is responsible for retaining the returned
// handle through the Manager if it intends to keep it.
func (in *Interner) Lookup(s string) (uint32, bool) {
	in.mu.RLock()
	h, ok := in.table[s]
	in.mu.RUnlock()
	if ok {
		in.mu.Lock()
		in.hits++
		in.bytesSaved += uint64(len(s))
		in.mu.Unlock()
		in.metricHits.Inc()
		in.metricBytesSaved.Add(float64(len(s)))
	} else {
		in.mu.Lock()
		in.misses++
		in.mu.Unlock()
		in.metricMisses.Inc()
	}
	return h, ok
}

// Insert records a freshly allocated handle under key s. Callers must
// only call Insert after a Lookup miss, while still holding no
// expectation of exclusivity — a benign race where two goroutines both
// miss and both Insert is resolved by keeping whichever handle wins the
// map write; the loser's box becomes ordinary (uninterned) garbage
// collected normally through its own refcount.
func (in *Interner) Insert(s string, handle uint32) {
	in.mu.Lock()
	in.table[s] = handle
	in.mu.Unlock()
}

// Evict removes s from the table, called once a String box's refcount
// reaches zero in the Manager's release path.
func (in *Interner) Evict(s string) {
	in.mu.Lock()
	delete(in.table, s)
	in.mu.Unlock()
}

// HitRate returns hits / (hits + misses), or 0 if Lookup was never
// called.
func (in *Interner) HitRate() float64 {
	in.mu.RLock()
	defer in.mu.RUnlock()
	total := in.hits + in.misses
	if total == 0 {
		return 0
	}
	return float64(in.hits) / float64(total)
}

// BytesSaved returns the cumulative byte length of strings served from
// the table instead of being reallocated.
func (in *Interner) BytesSaved() uint64 {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.bytesSaved
}
