// Package metrics exposes ingestion and delivery counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aculclasure/coderelay/internal/core/processor"
)

const namespace = "coderelay"

// Metrics implements processor.IngestObserver and processor.DeliveryObserver.
type Metrics struct {
	gatherer      prometheus.Gatherer
	cycles        *prometheus.CounterVec
	messages      *prometheus.CounterVec
	notifications *prometheus.CounterVec
	down          prometheus.Gauge
	cycleDuration prometheus.Histogram
}

// New registers the collectors on reg. Handler serves the same registry.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Ingestion cycles by result.",
		}, []string{"result"}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Processed messages by outcome.",
		}, []string{"outcome"}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification delivery attempts by event kind and result.",
		}, []string{"kind", "result"}),
		down: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingestion_down",
			Help:      "1 while the mailbox query is failing, 0 otherwise.",
		}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Ingestion cycle latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) ObserveCycle(result string, elapsed time.Duration) {
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveMessage(outcome string) {
	m.messages.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveDelivery(kind processor.EventKind, delivered bool) {
	result := "failed"
	if delivered {
		result = "delivered"
	}
	m.notifications.WithLabelValues(string(kind), result).Inc()
}

// SetDown is a processor.FailureTracker state hook.
func (m *Metrics) SetDown(down bool) {
	m.down.Set(boolToFloat(down))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
