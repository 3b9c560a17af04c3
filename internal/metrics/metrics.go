// Package metrics exposes tracker activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scrypster/dwell/internal/engine"
	"github.com/scrypster/dwell/internal/presence"
	"github.com/scrypster/dwell/pkg/types"
)

const namespace = "dwell"

// breakerStates are the values reported by the breaker state gauge.
var breakerStates = []string{"closed", "half-open", "open"}

// Metrics records session transitions and ledger writes. It implements
// presence.Listener and engine.SaveObserver.
type Metrics struct {
	arrivals     *prometheus.CounterVec
	departures   *prometheus.CounterVec
	dwell        prometheus.Histogram
	saves        *prometheus.CounterVec
	saveDuration *prometheus.HistogramVec
	breakerState *prometheus.GaugeVec
}

var (
	_ presence.Listener   = (*Metrics)(nil)
	_ engine.SaveObserver = (*Metrics)(nil)
)

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		arrivals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "arrivals_total",
			Help:      "Sessions opened, by entity.",
		}, []string{"entity"}),
		departures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "departures_total",
			Help:      "Sessions closed, by entity.",
		}, []string{"entity"}),
		dwell: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "session_duration_seconds",
			Help:      "Duration of closed sessions.",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
		}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "saves_total",
			Help:      "Ledger save attempts, by backend and result.",
		}, []string{"backend", "result"}),
		saveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "save_duration_seconds",
			Help:      "Time spent writing the ledger.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "breaker_state",
			Help:      "1 for the current ledger circuit breaker state, 0 otherwise.",
		}, []string{"state"}),
	}

	reg.MustRegister(m.arrivals, m.departures, m.dwell, m.saves, m.saveDuration, m.breakerState)
	m.ObserveBreakerState("closed")
	return m
}

// OnArrival implements presence.Listener.
func (m *Metrics) OnArrival(ev types.ArrivalEvent) {
	m.arrivals.WithLabelValues(string(ev.Entity)).Inc()
}

// OnDeparture implements presence.Listener.
func (m *Metrics) OnDeparture(ev types.DepartureEvent) {
	m.departures.WithLabelValues(string(ev.Entity)).Inc()
	m.dwell.Observe(ev.DurationSeconds)
}

// ObserveSave implements engine.SaveObserver.
func (m *Metrics) ObserveSave(backend string, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.saves.WithLabelValues(backend, result).Inc()
	m.saveDuration.WithLabelValues(backend).Observe(took.Seconds())
}

// ObserveBreakerState implements engine.SaveObserver.
func (m *Metrics) ObserveBreakerState(state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.breakerState.WithLabelValues(s).Set(v)
	}
}
