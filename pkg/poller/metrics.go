package poller

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cycle results, used as the "result" label.
const (
	ResultRendered           = "rendered"
	ResultCaptureUnavailable = "capture_unavailable"
	ResultTransportFailure   = "transport_failure"
	ResultProtocolViolation  = "protocol_violation"
	ResultRenderFailure      = "render_failure"
	ResultCancelled          = "cancelled"
)

// Metrics holds Prometheus metrics for the polling loop.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	CyclesTotal   *prometheus.CounterVec
	OutcomesTotal *prometheus.CounterVec
	SkippedTotal  prometheus.Counter
	HistorySize   prometheus.Gauge
	HandlesLive   prometheus.Gauge
	CycleDuration prometheus.Histogram
}

// NewMetrics creates the metrics and registers them with reg.
//
// Metrics:
//   - framewatch_cycles_total{result} - finished cycles by result
//   - framewatch_outcomes_total{status} - analysis outcomes by status
//   - framewatch_cycles_skipped_total - ticks skipped while a cycle was in flight
//   - framewatch_history_size - current history length
//   - framewatch_handles_outstanding - acquired, unreleased image handles
//   - framewatch_cycle_duration_seconds - cycle wall time
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CyclesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "framewatch_cycles_total",
				Help: "Total number of polling cycles by result",
			},
			[]string{"result"},
		),
		OutcomesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "framewatch_outcomes_total",
				Help: "Total number of analysis outcomes by status",
			},
			[]string{"status"},
		),
		SkippedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "framewatch_cycles_skipped_total",
			Help: "Ticks skipped because the previous cycle was still in flight",
		}),
		HistorySize: f.NewGauge(prometheus.GaugeOpts{
			Name: "framewatch_history_size",
			Help: "Current number of history entries",
		}),
		HandlesLive: f.NewGauge(prometheus.GaugeOpts{
			Name: "framewatch_handles_outstanding",
			Help: "Image handles acquired and not yet released",
		}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "framewatch_cycle_duration_seconds",
			Help:    "Duration of polling cycles in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}

func (m *Metrics) cycle(result string, start time.Time) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) outcome(status string) {
	if m == nil {
		return
	}
	m.OutcomesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) skipped() {
	if m == nil {
		return
	}
	m.SkippedTotal.Inc()
}

func (m *Metrics) gauges(historyLen, handles int) {
	if m == nil {
		return
	}
	m.HistorySize.Set(float64(historyLen))
	m.HandlesLive.Set(float64(handles))
}
