// Package metrics exposes Prometheus collectors for the conversation loop and
// its tool executions.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes collectors reporting orchestrator activity.
type Metrics struct {
	toolDuration   *prometheus.HistogramVec
	toolFailures   *prometheus.CounterVec
	loopIterations prometheus.Histogram
	heartbeats     *prometheus.CounterVec
	sessionsActive prometheus.Gauge
	compactions    prometheus.Counter
}

var (
	defaultOnce   sync.Once
	sharedMetrics *Metrics
)

// Default returns the package-level metrics instance registered with the
// global Prometheus registry. Collectors are created once to avoid duplicate
// registration panics when orchestrators are built repeatedly.
func Default() *Metrics {
	defaultOnce.Do(func() {
		sharedMetrics = MustNew(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNew constructs a Metrics instance on the provided registerer. Tests pass
// a fresh registry. Registration errors other than AlreadyRegistered panic,
// mirroring promauto semantics.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	toolDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "compass",
			Subsystem: "agent",
			Name:      "tool_duration_seconds",
			Help:      "Wall time of each tool execution.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool", "status"},
	)
	toolFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "compass",
			Subsystem: "agent",
			Name:      "tool_failures_total",
			Help:      "Tool executions that returned an error result.",
		},
		[]string{"tool"},
	)
	loopIterations := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "compass",
			Subsystem: "agent",
			Name:      "loop_iterations",
			Help:      "Model turns consumed per processed user message.",
			Buckets:   []float64{1, 2, 3, 5, 8, 12, 15},
		},
	)
	heartbeats := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "compass",
			Subsystem: "agent",
			Name:      "heartbeats_total",
			Help:      "Progress heartbeats emitted while slow tools ran.",
		},
		[]string{"tool"},
	)
	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "compass",
			Subsystem: "agent",
			Name:      "sessions_active",
			Help:      "Orchestrators currently resident in memory.",
		},
	)
	compactions := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "compass",
			Subsystem: "agent",
			Name:      "history_compactions_total",
			Help:      "Conversation history compaction passes performed.",
		},
	)

	collectors := []prometheus.Collector{
		toolDuration, toolFailures, loopIterations, heartbeats, sessionsActive, compactions,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch collector {
				case toolDuration:
					toolDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case toolFailures:
					toolFailures = already.ExistingCollector.(*prometheus.CounterVec)
				case loopIterations:
					loopIterations = already.ExistingCollector.(prometheus.Histogram)
				case heartbeats:
					heartbeats = already.ExistingCollector.(*prometheus.CounterVec)
				case sessionsActive:
					sessionsActive = already.ExistingCollector.(prometheus.Gauge)
				case compactions:
					compactions = already.ExistingCollector.(prometheus.Counter)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		toolDuration:   toolDuration,
		toolFailures:   toolFailures,
		loopIterations: loopIterations,
		heartbeats:     heartbeats,
		sessionsActive: sessionsActive,
		compactions:    compactions,
	}
}

// ObserveToolDuration records one tool execution.
func (m *Metrics) ObserveToolDuration(tool, status string, duration time.Duration) {
	if m == nil || m.toolDuration == nil {
		return
	}
	m.toolDuration.WithLabelValues(tool, status).Observe(duration.Seconds())
}

// IncToolFailure counts a tool error result.
func (m *Metrics) IncToolFailure(tool string) {
	if m == nil || m.toolFailures == nil {
		return
	}
	m.toolFailures.WithLabelValues(tool).Inc()
}

// ObserveLoopIterations records turns consumed by one user message.
func (m *Metrics) ObserveLoopIterations(n int) {
	if m == nil || m.loopIterations == nil {
		return
	}
	m.loopIterations.Observe(float64(n))
}

// IncHeartbeat counts one progress heartbeat for a slow tool.
func (m *Metrics) IncHeartbeat(tool string) {
	if m == nil || m.heartbeats == nil {
		return
	}
	m.heartbeats.WithLabelValues(tool).Inc()
}

// SessionOpened marks one orchestrator resident.
func (m *Metrics) SessionOpened() {
	if m == nil || m.sessionsActive == nil {
		return
	}
	m.sessionsActive.Inc()
}

// SessionClosed marks one orchestrator evicted.
func (m *Metrics) SessionClosed() {
	if m == nil || m.sessionsActive == nil {
		return
	}
	m.sessionsActive.Dec()
}

// IncCompaction counts one history compaction pass.
func (m *Metrics) IncCompaction() {
	if m == nil || m.compactions == nil {
		return
	}
	m.compactions.Inc()
}
