package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Round outcomes used as label values.
const (
	OutcomeSuccess    = "success"
	OutcomeEmptyQueue = "empty_queue"
	OutcomeNoResponse = "no_response"
	OutcomeFillError  = "fill_error"
	OutcomeCancelled  = "cancelled"
)

// Metrics holds the Prometheus collectors of the controller.
// Methods are safe to call on a nil *Metrics.
type Metrics struct {
	Rounds        *prometheus.CounterVec
	DrainDuration *prometheus.HistogramVec
	Pops          *prometheus.CounterVec
	PushErrors    prometheus.Counter
	Paused        prometheus.Gauge
	QueueCount    prometheus.Gauge
	PayloadSize   prometheus.Gauge
	registry      *prometheus.Registry
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Rounds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maxpop_rounds_total",
				Help: "Rounds finished, by outcome",
			},
			[]string{"outcome"},
		),
		DrainDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "maxpop_drain_duration_seconds",
				Help:    "Time to drain all queued messages of a round",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
			},
			[]string{"payload_size"},
		),
		Pops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maxpop_pops_total",
				Help: "Pop calls by endpoint and result",
			},
			[]string{"endpoint", "result"},
		),
		PushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maxpop_push_errors_total",
			Help: "Fill phase pushes that returned an error",
		}),
		Paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "maxpop_paused",
			Help: "1 while the active run is paused",
		}),
		QueueCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "maxpop_queue_count",
			Help: "Queue count of the current round",
		}),
		PayloadSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "maxpop_payload_bytes",
			Help: "Payload size of the current round",
		}),
		registry: registry,
	}

	registry.MustRegister(m.Rounds)
	registry.MustRegister(m.DrainDuration)
	registry.MustRegister(m.Pops)
	registry.MustRegister(m.PushErrors)
	registry.MustRegister(m.Paused)
	registry.MustRegister(m.QueueCount)
	registry.MustRegister(m.PayloadSize)

	return m
}

func (m *Metrics) RoundStarted(queues, payload int) {
	if m == nil {
		return
	}
	m.QueueCount.Set(float64(queues))
	m.PayloadSize.Set(float64(payload))
}

func (m *Metrics) RoundFinished(outcome string) {
	if m == nil {
		return
	}
	m.Rounds.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveDrain(payloadLabel string, seconds float64) {
	if m == nil {
		return
	}
	m.DrainDuration.WithLabelValues(payloadLabel).Observe(seconds)
}

func (m *Metrics) Pop(endpoint, result string) {
	if m == nil {
		return
	}
	m.Pops.WithLabelValues(endpoint, result).Inc()
}

func (m *Metrics) PushError() {
	if m == nil {
		return
	}
	m.PushErrors.Inc()
}

func (m *Metrics) SetPaused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.Paused.Set(1)
	} else {
		m.Paused.Set(0)
	}
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
