// Package metrics exposes build engine activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/starford/inkbuild/internal/build"
	"github.com/starford/inkbuild/internal/models"
)

const namespace = "inkbuild"

// Metrics holds the collectors fed by engine events.
type Metrics struct {
	registry    *prometheus.Registry
	compiles    *prometheus.CounterVec
	duration    prometheus.Histogram
	diagnostics *prometheus.CounterVec
	cache       *prometheus.CounterVec
	events      *prometheus.CounterVec
}

// New registers the collectors on a fresh registry. nodes, when set,
// reports the current size of the dependency graph.
func New(nodes func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compiles_total",
			Help:      "Root document compilations by outcome.",
		}, []string{"state"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compile_duration_seconds",
			Help:      "Time spent compiling one root document.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_published_total",
			Help:      "Diagnostics published, by severity.",
		}, []string{"severity"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_cache_events_total",
			Help:      "Artifact cache lookups and evictions.",
		}, []string{"event"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_events_total",
			Help:      "Documents registered in and deleted from the dependency graph.",
		}, []string{"event", "kind"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.compiles, m.duration, m.diagnostics, m.cache, m.events,
	)
	if nodes != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_nodes",
			Help:      "Documents currently in the dependency graph.",
		}, func() float64 { return float64(nodes()) }))
	}
	return m
}

// Observe records one engine event. It is a build.Observer.
func (m *Metrics) Observe(ev build.Event) {
	switch ev.Type {
	case build.EventCompiled:
		if ev.Result == nil {
			return
		}
		m.compiles.WithLabelValues(ev.Result.State.String()).Inc()
		m.duration.Observe(ev.Result.Duration.Seconds())
		for _, diags := range ev.Result.Diagnostics {
			for _, d := range diags {
				m.diagnostics.WithLabelValues(string(d.Severity)).Inc()
			}
		}
	case build.EventCacheHit:
		m.cache.WithLabelValues("hit").Inc()
	case build.EventCacheMiss:
		m.cache.WithLabelValues("miss").Inc()
	case build.EventCacheEvicted:
		m.cache.WithLabelValues("evicted").Inc()
	case build.EventRegistered:
		m.events.WithLabelValues("registered", kindLabel(ev.Kind)).Inc()
	case build.EventDeleted:
		m.events.WithLabelValues("deleted", kindLabel(ev.Kind)).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func kindLabel(k models.DocumentKind) string {
	if k == "" {
		return "unknown"
	}
	return string(k)
}
