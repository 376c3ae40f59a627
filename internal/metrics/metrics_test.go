// internal/metrics/metrics_test.go

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.EventAppended("hazard_reports")
	m.EventAppended("hazard_reports")
	m.WriteFailed("emergency_alerts", "rejected")
	m.ShareTransition("started")
	m.ShareRefreshed(0.01)
	m.TelemetryUplink("decoded")
	m.ViewerOpened()
	m.ViewerOpened()
	m.ViewerClosed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsAppended.WithLabelValues("hazard_reports")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writeFailures.WithLabelValues("emergency_alerts", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.shareTransitions.WithLabelValues("started")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.shareRefreshes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.telemetryUplinks.WithLabelValues("decoded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.viewerWatches))
	assert.Equal(t, 1, testutil.CollectAndCount(m.refreshLatency))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EventAppended("hazard_reports")
		m.WriteFailed("hazard_reports", "unavailable")
		m.ShareTransition("stopped")
		m.ShareRefreshed(1)
		m.TelemetryUplink("rejected")
		m.ViewerOpened()
		m.ViewerClosed()
	})
}
