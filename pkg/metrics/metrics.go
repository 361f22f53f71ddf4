package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "push_dispatch"

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	consumed   prometheus.Counter
	retried    prometheus.Counter
	deliveries *prometheus.CounterVec
	exchanges  *prometheus.CounterVec
	requests   *prometheus.CounterVec
	duration   prometheus.Histogram
}

// New returns a Metrics collector with every series registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		consumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_messages_consumed_total",
			Help:      "Dispatch requests consumed from the queue.",
		}),
		retried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_retries_total",
			Help:      "Additional delivery attempts made after a retryable failure.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-token delivery outcomes.",
		}, []string{"outcome"}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_exchanges_total",
			Help:      "OAuth2 JWT-bearer exchanges by outcome.",
		}, []string{"outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Dispatch requests by HTTP status code.",
		}, []string{"code"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent in the sign, exchange and fan-out pipeline.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(m.consumed, m.retried, m.deliveries, m.exchanges, m.requests, m.duration)
	return m
}

func (m *Metrics) IncConsumed() { m.consumed.Inc() }
func (m *Metrics) IncRetried()  { m.retried.Inc() }

// AddDeliveries records the per-token outcomes of one dispatch.
func (m *Metrics) AddDeliveries(delivered, failed int) {
	m.deliveries.WithLabelValues("delivered").Add(float64(delivered))
	m.deliveries.WithLabelValues("failed").Add(float64(failed))
}

// ObserveExchange counts one token exchange.
func (m *Metrics) ObserveExchange(err error) {
	if err != nil {
		m.exchanges.WithLabelValues("failed").Inc()
		return
	}
	m.exchanges.WithLabelValues("ok").Inc()
}

// ObserveRequest records the final status code and pipeline latency.
func (m *Metrics) ObserveRequest(code int, elapsed time.Duration) {
	m.requests.WithLabelValues(strconv.Itoa(code)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
