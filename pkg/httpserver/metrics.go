package httpserver

import "github.com/prometheus/client_golang/prometheus"

// metrics exposes pool-occupancy gauges (SPEC_FULL.md §4.8), grounded
// on pkg/memory/interner.go's NewInterner(reg) convention: a nil
// registry is valid and simply skips metrics exposition.
type metrics struct {
	arenaPoolSize   prometheus.Gauge
	contextPoolSize prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		arenaPoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "phprt_http_arena_pool_size",
			Help: "Number of per-request arenas currently checked out from the pool.",
		}),
		contextPoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "phprt_http_context_pool_size",
			Help: "Number of RequestContexts currently checked out from the pool.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.arenaPoolSize, m.contextPoolSize)
	}
	return m
}
