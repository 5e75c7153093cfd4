package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics counts event outcomes and stock mutations.
type PipelineMetrics struct {
	events      *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	adjustments *prometheus.CounterVec
	decodeFails *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
// A nil registerer yields a recorder whose methods do nothing.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_events_total",
		Help: "Events handled, by category and outcome.",
	}, []string{"category", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockledger_event_duration_seconds",
		Help:    "Time spent handling one event.",
		Buckets: prometheus.DefBuckets,
	}, []string{"category"})
	adjustments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_stock_adjustments_total",
		Help: "Stock line mutations attempted, by result.",
	}, []string{"result"})
	decodeFails := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_decode_failures_total",
		Help: "Messages dropped because they could not be decoded.",
	}, []string{"transport"})
	reg.MustRegister(events, duration, adjustments, decodeFails)
	return &PipelineMetrics{
		events:      events,
		duration:    duration,
		adjustments: adjustments,
		decodeFails: decodeFails,
	}
}

// ObserveEvent records one handled event.
func (m *PipelineMetrics) ObserveEvent(category, outcome string, elapsed time.Duration) {
	if m == nil || m.events == nil {
		return
	}
	category = normalizeLabel(category)
	m.events.WithLabelValues(category, normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(category).Observe(elapsed.Seconds())
}

// IncAdjustment counts one AdjustStock result.
func (m *PipelineMetrics) IncAdjustment(result string) {
	if m == nil || m.adjustments == nil {
		return
	}
	m.adjustments.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncDecodeFailure counts one undecodable message.
func (m *PipelineMetrics) IncDecodeFailure(transport string) {
	if m == nil || m.decodeFails == nil {
		return
	}
	m.decodeFails.WithLabelValues(normalizeLabel(transport)).Inc()
}
