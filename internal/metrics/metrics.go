package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scheduling"

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	EventsPublished *prometheus.CounterVec
	EventsConsumed  *prometheus.CounterVec

	ReconcilerRepairs *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewCollector registers every metric on reg. Use a fresh
// prometheus.NewRegistry() per process (or per test).
func NewCollector(reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route"}),

		InFlightGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "events_published_total",
			Help:      "Events published by topic, event and outcome.",
		}, []string{"topic", "event", "outcome"}),

		EventsConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "events_consumed_total",
			Help:      "Event deliveries handled by topic, event and outcome.",
		}, []string{"topic", "event", "outcome"}),

		ReconcilerRepairs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "repairs_total",
			Help:      "Slots whose status was repaired, by target status.",
		}, []string{"status"}),

		gatherer: reg,
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Published implements messaging.Observer.
func (c *Collector) Published(topic, event string, err error) {
	c.EventsPublished.WithLabelValues(topic, event, outcome(err)).Inc()
}

// Consumed implements messaging.Observer.
func (c *Collector) Consumed(topic, event string, err error) {
	c.EventsConsumed.WithLabelValues(topic, event, outcome(err)).Inc()
}

// Repaired implements saga.RepairObserver.
func (c *Collector) Repaired(status string) {
	c.ReconcilerRepairs.WithLabelValues(status).Inc()
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
