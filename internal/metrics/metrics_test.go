package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNew(reg)

	m.Update("message")
	m.Update("message")
	m.Transition("idle", "awaiting_report_description")
	m.ReportCreated("telegram", nil)
	m.ReportCreated("web", errors.New("boom"))
	m.AuthFailure("web_app")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.updates.WithLabelValues("message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("idle", "awaiting_report_description")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reports.WithLabelValues("web", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authFailures.WithLabelValues("web_app")))

	m.TrackActiveDialogs(reg, func() int { return 3 })
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeDialogs))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Update("message")
		m.Transition("a", "b")
		m.ReportCreated("web", nil)
		m.AuthFailure("login_widget")
		m.TrackActiveDialogs(nil, func() int { return 0 })
	})
}
