// internal/metrics/metrics.go

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	eventsAppended   *prometheus.CounterVec
	writeFailures    *prometheus.CounterVec
	shareTransitions *prometheus.CounterVec
	shareRefreshes   prometheus.Counter
	telemetryUplinks *prometheus.CounterVec
	viewerWatches    prometheus.Gauge
	refreshLatency   prometheus.Histogram
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safeloc_events_appended_total",
			Help: "Records written to the event store, by kind.",
		}, []string{"kind"}),
		writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safeloc_event_write_failures_total",
			Help: "Rejected or failed event store writes, by kind and reason.",
		}, []string{"kind", "reason"}),
		shareTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safeloc_share_sessions_total",
			Help: "Share session lifecycle transitions.",
		}, []string{"transition"}),
		shareRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safeloc_share_refreshes_total",
			Help: "Position refreshes written into active share sessions.",
		}),
		telemetryUplinks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safeloc_telemetry_uplinks_total",
			Help: "Telemetry uplinks received, by outcome.",
		}, []string{"outcome"}),
		viewerWatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "safeloc_viewer_watches",
			Help: "Viewer subscriptions currently open.",
		}),
		refreshLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "safeloc_share_refresh_seconds",
			Help:    "Time spent writing a share session refresh.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	reg.MustRegister(
		m.eventsAppended,
		m.writeFailures,
		m.shareTransitions,
		m.shareRefreshes,
		m.telemetryUplinks,
		m.viewerWatches,
		m.refreshLatency,
	)
	return m
}

func (m *Metrics) EventAppended(kind string) {
	if m == nil {
		return
	}
	m.eventsAppended.WithLabelValues(kind).Inc()
}

func (m *Metrics) WriteFailed(kind, reason string) {
	if m == nil {
		return
	}
	m.writeFailures.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) ShareTransition(transition string) {
	if m == nil {
		return
	}
	m.shareTransitions.WithLabelValues(transition).Inc()
}

func (m *Metrics) ShareRefreshed(seconds float64) {
	if m == nil {
		return
	}
	m.shareRefreshes.Inc()
	m.refreshLatency.Observe(seconds)
}

func (m *Metrics) TelemetryUplink(outcome string) {
	if m == nil {
		return
	}
	m.telemetryUplinks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ViewerOpened() {
	if m == nil {
		return
	}
	m.viewerWatches.Inc()
}

func (m *Metrics) ViewerClosed() {
	if m == nil {
		return
	}
	m.viewerWatches.Dec()
}
