package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the purchase-lifecycle counters. A single instance is
// created at app start and threaded into the services that record
// outcomes.
type Metrics struct {
	registry *prometheus.Registry

	PaymentsCompleted  *prometheus.CounterVec
	PaymentsFailed     *prometheus.CounterVec
	AmountMismatches   prometheus.Counter
	RefundsDecided     *prometheus.CounterVec
	PlaybackDecisions  *prometheus.CounterVec
	DeviceRegistration *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PaymentsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_completed_total",
			Help: "Payments that reached the completed status.",
		}, []string{"method"}),
		PaymentsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_failed_total",
			Help: "Payments that reached the failed or canceled status.",
		}, []string{"method", "cause"}),
		AmountMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payment_amount_mismatches_total",
			Help: "Gateway-reported amounts that disagreed with the order amount.",
		}),
		RefundsDecided: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "refunds_decided_total",
			Help: "Refund requests by final decision.",
		}, []string{"decision"}),
		PlaybackDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playback_decisions_total",
			Help: "Playback authorization outcomes.",
		}, []string{"decision"}),
		DeviceRegistration: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "device_registrations_total",
			Help: "Device registration attempts by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.PaymentsCompleted,
		m.PaymentsFailed,
		m.AmountMismatches,
		m.RefundsDecided,
		m.PlaybackDecisions,
		m.DeviceRegistration,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
