package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reportbot"

// Metrics holds the collectors shared by the bot, the web server and the dialog engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	updates       *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	reports       *prometheus.CounterVec
	authFailures  *prometheus.CounterVec
	activeDialogs prometheus.GaugeFunc
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns collectors registered with the global Prometheus registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew registers the collectors with reg and panics on duplicate registration.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telegram",
			Name:      "updates_total",
			Help:      "Inbound Telegram updates by kind.",
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "transitions_total",
			Help:      "Dialog state transitions.",
		}, []string{"from", "to"}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_created_total",
			Help:      "Reports persisted, by source and outcome.",
		}, []string{"source", "outcome"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Rejected signed payloads by verification mode.",
		}, []string{"mode"}),
	}
	reg.MustRegister(m.updates, m.transitions, m.reports, m.authFailures)
	return m
}

// TrackActiveDialogs exposes the size of the dialog store as a gauge.
func (m *Metrics) TrackActiveDialogs(reg prometheus.Registerer, count func() int) {
	if m == nil || count == nil {
		return
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m.activeDialogs = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "conversation",
		Name:      "active",
		Help:      "Dialogs currently held in memory.",
	}, func() float64 { return float64(count()) })
	reg.MustRegister(m.activeDialogs)
}

func (m *Metrics) Update(kind string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(kind).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ReportCreated(source string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.reports.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) AuthFailure(mode string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(mode).Inc()
}
