// Package metrics exposes workflow and delivery counters to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mobomo/C2/internal/domain/event"
)

// Metrics holds every collector the server registers
type Metrics struct {
	reg prometheus.Gatherer

	Events         *prometheus.CounterVec
	Transitions    *prometheus.CounterVec
	Enqueued       *prometheus.CounterVec
	EnqueueFailed  *prometheus.CounterVec
	Deliveries     *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
	BreakerOpen    prometheus.Gauge
}

// New registers collectors on reg. A nil reg gets a private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "c2_proposal_events_total",
			Help: "Proposal events published, by type.",
		}, []string{"type"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "c2_proposal_transitions_total",
			Help: "Proposals reaching a terminal status.",
		}, []string{"status"}),
		Enqueued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "c2_notifications_enqueued_total",
			Help: "Messages written to the outbox, by kind.",
		}, []string{"kind"}),
		EnqueueFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "c2_notifications_enqueue_failed_total",
			Help: "Messages the dispatcher could not queue, by kind.",
		}, []string{"kind"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "c2_notification_deliveries_total",
			Help: "Outbox delivery attempts, by kind and result.",
		}, []string{"kind", "result"}),
		RequestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "c2_http_request_duration_seconds",
			Help:    "HTTP request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route", "status"}),
		BreakerOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "c2_mail_breaker_open",
			Help: "1 while the mail transport circuit breaker is open.",
		}),
	}
}

// NotificationEnqueued implements dispatcher.Metrics
func (m *Metrics) NotificationEnqueued(kind string) {
	m.Enqueued.WithLabelValues(kind).Inc()
}

// NotificationFailed implements dispatcher.Metrics
func (m *Metrics) NotificationFailed(kind string) {
	m.EnqueueFailed.WithLabelValues(kind).Inc()
}

// DeliveryResult implements worker.DeliveryMetrics
func (m *Metrics) DeliveryResult(kind string, ok bool) {
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.Deliveries.WithLabelValues(kind, result).Inc()
}

// ObserveRequest records one HTTP request
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.RequestLatency.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// SetBreakerState records the mail breaker state as reported by gobreaker
func (m *Metrics) SetBreakerState(state string) {
	if state == "open" {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}

// HandleEvent is an event bus handler counting events and terminal transitions
func (m *Metrics) HandleEvent(ctx context.Context, evt *event.Event) error {
	m.Events.WithLabelValues(evt.Type.String()).Inc()
	if t := evt.GetPayloadString(event.KeyTransition); t != "" {
		m.Transitions.WithLabelValues(t).Inc()
	}
	return nil
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
