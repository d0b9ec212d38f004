// Package gcpolicy implements the GC policy engine described in spec
// §4.2/§4.3: a decision table separate from the collector itself,
// consuming memory-usage snapshots and allocation-rate/overhead
// trackers and emitting a GCDecision the caller (pkg/vm, typically on a
// safepoint between evaluator steps) acts on by invoking the
// appropriate pkg/memory.GC method.
package gcpolicy

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Kind names the class of collection the policy engine recommends.
type Kind string

const (
	KindMinor       Kind = "minor"
	KindMajor       Kind = "major"
	KindFull        Kind = "full"
	KindIncremental Kind = "incremental"
	KindConcurrent  Kind = "concurrent"
)

// Urgency qualifies how soon the caller should act on a GCDecision.
type Urgency string

const (
	UrgencyLow       Urgency = "low"
	UrgencyNormal    Urgency = "normal"
	UrgencyHigh      Urgency = "high"
	UrgencyImmediate Urgency = "immediate"
)

// GCDecision is the policy engine's output (spec §4.2).
type GCDecision struct {
	Kind    Kind
	Reason  string
	Urgency Urgency
}

// MemoryUsage is a snapshot of heap occupancy the caller gathers from
// pkg/memory before consulting the policy engine.
type MemoryUsage struct {
	NurseryUsed, NurseryCap float64
	SurvivorUsed, SurvivorCap float64
	OldUsed, OldCap         float64
	TotalUsed, TotalCap     float64
	Fragmentation           float64 // 0..1
}

func ratio(used, cap float64) float64 {
	if cap <= 0 {
		return 0
	}
	return used / cap
}

func (u MemoryUsage) nurseryRatio() float64 { return ratio(u.NurseryUsed, u.NurseryCap) }
func (u MemoryUsage) oldRatio() float64     { return ratio(u.OldUsed, u.OldCap) }
func (u MemoryUsage) totalRatio() float64   { return ratio(u.TotalUsed, u.TotalCap) }

// Thresholds holds the adaptively-tuned trigger points (spec §4.2).
type Thresholds struct {
	Nursery float64
	Old     float64
	Full    float64
}

// DefaultThresholds returns the spec's documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{Nursery: 0.8, Old: 0.7, Full: 0.9}
}

const (
	minThreshold = 0.5
	maxThreshold = 0.95

	defaultAdaptivePeriod      = 10
	defaultMaxGCOverhead       = 0.15
	defaultTargetGCOverhead    = 0.05
	defaultOverheadAdjustStep  = 0.05
	defaultFragmentationTrigger = 0.3
	defaultHighAllocRateBytes  = 10 * 1024 * 1024 // 10 MiB/s
	defaultEscalateAfterMinors = 5
	consecutivePromotionFailuresForMajor = 3
)

// Policy is the GC policy engine. It is safe for concurrent use.
type Policy struct {
	mu sync.Mutex

	thresholds Thresholds

	adaptivePeriod     int
	maxGCOverhead      float64
	targetGCOverhead   float64
	overheadAdjustStep float64

	collectionsSinceTune int
	overheadSamples      []float64

	consecutivePromotionFailures int
	consecutiveMinors            int

	highAllocRateBytesPerSec float64

	metricDecisions *prometheus.CounterVec
	metricOverhead  prometheus.Gauge
}

// New returns a Policy with the spec's documented defaults. reg, if
// non-nil, receives the policy's Prometheus metrics.
func New(reg prometheus.Registerer) *Policy {
	p := &Policy{
		thresholds:               DefaultThresholds(),
		adaptivePeriod:           defaultAdaptivePeriod,
		maxGCOverhead:            defaultMaxGCOverhead,
		targetGCOverhead:         defaultTargetGCOverhead,
		overheadAdjustStep:       defaultOverheadAdjustStep,
		highAllocRateBytesPerSec: defaultHighAllocRateBytes,
		metricDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phprt_gc_decisions_total",
			Help: "GC policy decisions emitted, by kind and urgency.",
		}, []string{"kind", "urgency"}),
		metricOverhead: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "phprt_gc_overhead_ratio",
			Help: "Most recently measured fraction of wall-clock time spent in GC.",
		}),
	}
	if reg != nil {
		reg.MustRegister(p.metricDecisions, p.metricOverhead)
	}
	return p
}

// Thresholds returns a snapshot of the current (possibly adapted)
// thresholds.
func (p *Policy) Thresholds() Thresholds {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.thresholds
}

// NotePromotionFailure records that a minor collection failed to
// promote a survivor (e.g. the old generation had no room); three
// consecutive failures escalate to a major collection (spec §4.2,
// decision order item 2).
func (p *Policy) NotePromotionFailure() {
	p.mu.Lock()
	p.consecutivePromotionFailures++
	p.mu.Unlock()
}

// NoteSuccessfulPromotion resets the consecutive-failure counter.
func (p *Policy) NoteSuccessfulPromotion() {
	p.mu.Lock()
	p.consecutivePromotionFailures = 0
	p.mu.Unlock()
}

// Decide evaluates the first-match decision order in spec §4.2 against
// usage, critical (a caller-supplied "we are in an emergency" signal —
// e.g. an allocation just failed outright), and allocRateBytesPerSec
// (the allocator's measured recent allocation rate).
func (p *Policy) Decide(usage MemoryUsage, critical bool, allocRateBytesPerSec float64) GCDecision {
	p.mu.Lock()
	defer p.mu.Unlock()

	d := p.decideLocked(usage, critical, allocRateBytesPerSec)
	p.metricDecisions.WithLabelValues(string(d.Kind), string(d.Urgency)).Inc()
	return d
}

func (p *Policy) decideLocked(usage MemoryUsage, critical bool, allocRate float64) GCDecision {
	// 1. Critical memory pressure.
	if critical {
		return GCDecision{KindFull, "critical memory pressure", UrgencyImmediate}
	}
	// 2. Three consecutive promotion failures.
	if p.consecutivePromotionFailures >= consecutivePromotionFailuresForMajor {
		return GCDecision{KindMajor, "three consecutive promotion failures", UrgencyHigh}
	}
	// 3. Nursery ratio >= nursery_threshold.
	if usage.nurseryRatio() >= p.thresholds.Nursery {
		p.consecutiveMinors++
		return GCDecision{KindMinor, "nursery occupancy at threshold", UrgencyNormal}
	}
	// 4. Old ratio >= old_threshold.
	if usage.oldRatio() >= p.thresholds.Old {
		return GCDecision{KindMajor, "old-generation occupancy at threshold", UrgencyHigh}
	}
	// 5. Total ratio >= full_threshold.
	if usage.totalRatio() >= p.thresholds.Full {
		return GCDecision{KindFull, "total heap occupancy at threshold", UrgencyHigh}
	}
	// 6. High allocation rate: minor, escalated to major after 5 consecutive minors.
	if allocRate >= p.highAllocRateBytesPerSec {
		p.consecutiveMinors++
		if p.consecutiveMinors > defaultEscalateAfterMinors {
			p.consecutiveMinors = 0
			return GCDecision{KindMajor, "sustained high allocation rate", UrgencyHigh}
		}
		return GCDecision{KindMinor, "high allocation rate", UrgencyNormal}
	}
	p.consecutiveMinors = 0
	// 7. Fragmentation.
	if usage.Fragmentation >= defaultFragmentationTrigger {
		return GCDecision{KindFull, "fragmentation above threshold", UrgencyLow}
	}
	return GCDecision{KindIncremental, "no trigger condition met", UrgencyLow}
}

// RecordCollectionOverhead feeds the measured fraction of wall-clock
// time spent inside the last collection into the adaptive tuner (spec
// §4.2 "Adaptive tuning"). Call this once per completed collection.
func (p *Policy) RecordCollectionOverhead(overheadRatio float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.overheadSamples = append(p.overheadSamples, overheadRatio)
	p.collectionsSinceTune++
	p.metricOverhead.Set(overheadRatio)

	if p.collectionsSinceTune < p.adaptivePeriod {
		return
	}

	avg := average(p.overheadSamples)
	p.overheadSamples = p.overheadSamples[:0]
	p.collectionsSinceTune = 0

	switch {
	case avg > p.maxGCOverhead:
		p.relaxThresholds()
	case avg < p.targetGCOverhead/2:
		p.tightenThresholds()
	}
}

func average(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// relaxThresholds raises trigger points (collect less often) when
// overhead is too high, clamped to [0.5, 0.95].
func (p *Policy) relaxThresholds() {
	p.thresholds.Nursery = clamp(p.thresholds.Nursery + p.overheadAdjustStep)
	p.thresholds.Old = clamp(p.thresholds.Old + p.overheadAdjustStep)
	p.thresholds.Full = clamp(p.thresholds.Full + p.overheadAdjustStep)
}

// tightenThresholds lowers trigger points (collect more often, reclaim
// sooner) when overhead is comfortably under target, clamped to
// [0.5, 0.95].
func (p *Policy) tightenThresholds() {
	p.thresholds.Nursery = clamp(p.thresholds.Nursery - p.overheadAdjustStep)
	p.thresholds.Old = clamp(p.thresholds.Old - p.overheadAdjustStep)
	p.thresholds.Full = clamp(p.thresholds.Full - p.overheadAdjustStep)
}

func clamp(x float64) float64 {
	if x < minThreshold {
		return minThreshold
	}
	if x > maxThreshold {
		return maxThreshold
	}
	return x
}

// FailingGeneration identifies which generation an allocation failed
// against, for DecideAllocationFailure.
type FailingGeneration string

const (
	FailNursery  FailingGeneration = "nursery"
	FailSurvivor FailingGeneration = "survivor"
	FailOld      FailingGeneration = "old"
	FailLarge    FailingGeneration = "large"
)

// DecideAllocationFailure returns the immediate decision sized to the
// failing generation (spec §4.2 "Allocation-failure handler").
func DecideAllocationFailure(gen FailingGeneration) GCDecision {
	switch gen {
	case FailNursery, FailSurvivor:
		return GCDecision{KindMinor, "allocation failure in " + string(gen), UrgencyImmediate}
	case FailOld:
		return GCDecision{KindMajor, "allocation failure in old generation", UrgencyImmediate}
	default:
		return GCDecision{KindFull, "allocation failure for large object", UrgencyImmediate}
	}
}
