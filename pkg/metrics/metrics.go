// Package metrics holds the suite's prometheus collectors and the periodic
// sampler that keeps the module-state gauges current.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ModulesByState tracks how many registered modules are in each
	// lifecycle state.
	ModulesByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hearth_modules_by_state",
		Help: "Number of modules in each lifecycle state",
	}, []string{"state"})

	// ModuleRestarts counts crash restarts per module.
	ModuleRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_module_restarts_total",
		Help: "Total module crash restarts",
	}, []string{"module_id"})

	// EventsPublished counts events published on the bus, by type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_events_published_total",
		Help: "Total events published on the bus",
	}, []string{"type"})

	// ForwarderDropped counts events evicted from the webhook forwarder
	// queue.
	ForwarderDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hearth_forwarder_dropped_total",
		Help: "Total events dropped by the webhook forwarder queue",
	})

	// SyncCycles counts completed cloud sync cycles by outcome.
	SyncCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_sync_cycles_total",
		Help: "Total cloud sync cycles by outcome",
	}, []string{"outcome"})

	// ContextCacheHits and ContextCacheMisses track bundle cache
	// effectiveness.
	ContextCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hearth_context_cache_hits_total",
		Help: "Context bundle cache hits",
	})
	ContextCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hearth_context_cache_misses_total",
		Help: "Context bundle cache misses",
	})

	// HealthCheckDuration observes module health probe latency.
	HealthCheckDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hearth_health_check_duration_seconds",
		Help:    "Module health probe latency",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 3},
	}, []string{"module_id"})

	// ContextBuildDuration observes context bundle assembly latency.
	ContextBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hearth_context_build_duration_seconds",
		Help:    "Context bundle assembly latency",
		Buckets: []float64{0.005, 0.025, 0.1, 0.5, 2, 5},
	})
)
