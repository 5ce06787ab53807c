package tracker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline and upload instruments.
type Metrics struct {
	StageDuration *prometheus.HistogramVec
	StageResults  *prometheus.CounterVec
	ItemsMatched  prometheus.Counter
	Uploads       *prometheus.CounterVec
}

// NewMetrics creates the instruments and registers them, together with the
// provider tracker when given, on reg.
func NewMetrics(reg prometheus.Registerer, t *Tracker) *Metrics {
	m := &Metrics{
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "matcher_stage_duration_seconds",
			Help:    "Duration of place pipeline stages.",
			Buckets: prometheus.ExponentialBuckets(0.05, 4, 8),
		}, []string{"stage"}),
		StageResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matcher_stage_results_total",
			Help: "Place pipeline stage outcomes.",
		}, []string{"stage", "result"}),
		ItemsMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matcher_items_matched_total",
			Help: "Items that produced at least one candidate.",
		}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matcher_upload_elements_total",
			Help: "Elements handled by uploads, by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.StageDuration, m.StageResults, m.ItemsMatched, m.Uploads)
		if t != nil {
			reg.MustRegister(t)
		}
	}
	return m
}

// ObserveStage records one stage run. A nil receiver is a no-op.
func (m *Metrics) ObserveStage(stage, result string, started time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
	m.StageResults.WithLabelValues(stage, result).Inc()
}

// ObserveUpload counts one element outcome. A nil receiver is a no-op.
func (m *Metrics) ObserveUpload(outcome string) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(outcome).Inc()
}

// ObserveMatched counts an item with candidates. A nil receiver is a no-op.
func (m *Metrics) ObserveMatched() {
	if m == nil {
		return
	}
	m.ItemsMatched.Inc()
}
