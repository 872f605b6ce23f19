package analysis

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains Prometheus metrics for analysis runs.
type Metrics struct {
	chunksTotal         *prometheus.CounterVec
	tracksTotal         *prometheus.CounterVec
	trackOutcomesTotal  *prometheus.CounterVec
	eventsTotal         *prometheus.CounterVec
	rowsExportedTotal   *prometheus.CounterVec
	exportFailuresTotal *prometheus.CounterVec
	chunkDuration       *prometheus.HistogramVec
}

// NewMetrics creates the analysis metrics and registers them with registry.
func NewMetrics(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		chunksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackcount_chunks_total",
				Help: "Total number of processed chunks",
			},
			[]string{"kind"}, // kind: counts, events, tracks, statistics
		),
		tracksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackcount_tracks_total",
				Help: "Total number of tracks processed after filtering",
			},
			[]string{"kind"},
		),
		trackOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackcount_track_outcomes_total",
				Help: "Total number of flow assignment outcomes",
			},
			[]string{"outcome"}, // outcome: assigned, unassigned, not-intersecting
		),
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackcount_events_total",
				Help: "Total number of section events generated",
			},
			[]string{"type"},
		),
		rowsExportedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackcount_rows_exported_total",
				Help: "Total number of rows handed to exporters",
			},
			[]string{"kind"},
		),
		exportFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackcount_export_failures_total",
				Help: "Total number of chunk exports that reported a failure",
			},
			[]string{"kind"},
		),
		chunkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trackcount_chunk_duration_seconds",
				Help:    "Time taken to process and export one chunk",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
			[]string{"kind"},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.chunksTotal.Describe(ch)
	m.tracksTotal.Describe(ch)
	m.trackOutcomesTotal.Describe(ch)
	m.eventsTotal.Describe(ch)
	m.rowsExportedTotal.Describe(ch)
	m.exportFailuresTotal.Describe(ch)
	m.chunkDuration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.chunksTotal.Collect(ch)
	m.tracksTotal.Collect(ch)
	m.trackOutcomesTotal.Collect(ch)
	m.eventsTotal.Collect(ch)
	m.rowsExportedTotal.Collect(ch)
	m.exportFailuresTotal.Collect(ch)
	m.chunkDuration.Collect(ch)
}

// observe records one finished chunk. A nil receiver does nothing.
func (m *Metrics) observe(p Progress) {
	if m == nil {
		return
	}
	kind := string(p.Kind)
	m.chunksTotal.WithLabelValues(kind).Inc()
	m.tracksTotal.WithLabelValues(kind).Add(float64(p.Tracks))
	m.rowsExportedTotal.WithLabelValues(kind).Add(float64(p.Rows))
	if p.Err != nil {
		m.exportFailuresTotal.WithLabelValues(kind).Inc()
	}
	m.chunkDuration.WithLabelValues(kind).Observe(p.Duration.Seconds())
	for typ, n := range p.Events {
		m.eventsTotal.WithLabelValues(string(typ)).Add(float64(n))
	}
	if p.Stats != nil {
		m.trackOutcomesTotal.WithLabelValues("assigned").Add(float64(p.Stats.Assigned))
		m.trackOutcomesTotal.WithLabelValues("unassigned").Add(float64(p.Stats.Unassigned))
		m.trackOutcomesTotal.WithLabelValues("not-intersecting").Add(float64(p.Stats.NotIntersecting))
	}
}
