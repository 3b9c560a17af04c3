package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/scrypster/dwell/internal/engine"
)

var (
	queueDepthDesc    = prometheus.NewDesc("dwell_engine_queue_depth", "Ticks waiting in the engine queue.", nil, nil)
	queueCapacityDesc = prometheus.NewDesc("dwell_engine_queue_capacity", "Capacity of the engine queue.", nil, nil)
	openSessionsDesc  = prometheus.NewDesc("dwell_tracker_open_sessions", "Sessions currently open.", nil, nil)
	ticksDesc         = prometheus.NewDesc("dwell_engine_ticks_processed_total", "Ticks observed by the tracker, by kind.", []string{"kind"}, nil)
	lastTickDesc      = prometheus.NewDesc("dwell_engine_last_tick_timestamp_seconds", "Unix time of the most recent tick.", nil, nil)
)

// StatsSource is satisfied by *engine.PresenceEngine.
type StatsSource interface {
	Stats() engine.Stats
}

// EngineCollector reads engine counters at scrape time.
type EngineCollector struct {
	Engine StatsSource
}

var _ prometheus.Collector = new(EngineCollector)

func (*EngineCollector) Describe(descCh chan<- *prometheus.Desc) {
	descCh <- queueDepthDesc
	descCh <- queueCapacityDesc
	descCh <- openSessionsDesc
	descCh <- ticksDesc
	descCh <- lastTickDesc
}

func (c *EngineCollector) Collect(metricsCh chan<- prometheus.Metric) {
	if c.Engine == nil {
		return
	}
	s := c.Engine.Stats()

	metricsCh <- prometheus.MustNewConstMetric(queueDepthDesc, prometheus.GaugeValue, float64(s.QueueDepth))
	metricsCh <- prometheus.MustNewConstMetric(queueCapacityDesc, prometheus.GaugeValue, float64(s.QueueCapacity))
	metricsCh <- prometheus.MustNewConstMetric(openSessionsDesc, prometheus.GaugeValue, float64(s.OpenSessions))
	metricsCh <- prometheus.MustNewConstMetric(ticksDesc, prometheus.CounterValue, float64(s.TicksProcessed-s.SweepTicks), "detection")
	metricsCh <- prometheus.MustNewConstMetric(ticksDesc, prometheus.CounterValue, float64(s.SweepTicks), "sweep")

	if !s.LastTick.IsZero() {
		metricsCh <- prometheus.MustNewConstMetric(lastTickDesc, prometheus.GaugeValue, float64(s.LastTick.UnixNano())/1e9)
	}
}
