// Package metrics provides Prometheus instrumentation for knot engines.
//
// Metrics are registered against a caller-supplied registerer instead of
// the global default, so several engines (and tests) can each own one.
// Every method is safe to call on a nil *Metrics, which disables
// instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/knot/internal/ir"
)

// Namespace is the prefix for all knot metrics.
const Namespace = "knot"

// Metrics holds the engine collectors. Labels use the knot name, not the
// instance id, to keep cardinality bounded across restarts.
type Metrics struct {
	changes    *prometheus.CounterVec
	reductions *prometheus.CounterVec
	actions    *prometheus.CounterVec
	cancelled  *prometheus.CounterVec
	failures   *prometheus.CounterVec
	queueDepth *prometheus.GaugeVec
	reduceTime *prometheus.HistogramVec
}

// New creates and registers the engine collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		changes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "changes_total",
			Help:      "Changes accepted into the reduction queue, by origin",
		}, []string{"knot", "origin"}),
		reductions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reductions_total",
			Help:      "Changes reduced and published as a new state",
		}, []string{"knot"}),
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "actions_total",
			Help:      "Actions routed to transformers, by action tag",
		}, []string{"knot", "action"}),
		cancelled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "workers_superseded_total",
			Help:      "Switch-policy transformer or trigger runs cancelled by a newer run",
		}, []string{"knot"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "failures_total",
			Help:      "Knot terminations caused by a failure, by error code",
		}, []string{"knot", "code"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "queue_depth",
			Help:      "Changes waiting in the reduction queue",
		}, []string{"knot"}),
		reduceTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "reduce_duration_seconds",
			Help:      "Time spent in reducers",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"knot"}),
	}
}

// ChangeAccepted counts a change entering the queue.
func (m *Metrics) ChangeAccepted(knot string, origin ir.Origin) {
	if m == nil {
		return
	}
	m.changes.WithLabelValues(knot, string(origin)).Inc()
}

// Reduced counts one reduction and observes its duration.
func (m *Metrics) Reduced(knot string, d time.Duration) {
	if m == nil {
		return
	}
	m.reductions.WithLabelValues(knot).Inc()
	m.reduceTime.WithLabelValues(knot).Observe(d.Seconds())
}

// ActionDispatched counts an action routed to its transformers.
func (m *Metrics) ActionDispatched(knot string, action ir.Tag) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(knot, string(action)).Inc()
}

// WorkerSuperseded counts a switch-policy run cancelled by a newer one.
func (m *Metrics) WorkerSuperseded(knot string) {
	if m == nil {
		return
	}
	m.cancelled.WithLabelValues(knot).Inc()
}

// Failed counts a knot termination by error code.
func (m *Metrics) Failed(knot, code string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(knot, code).Inc()
}

// QueueDepth records the number of pending changes.
func (m *Metrics) QueueDepth(knot string, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(knot).Set(float64(n))
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
