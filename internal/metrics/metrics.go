// Package metrics exposes Prometheus counters for the signaling relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons reported by the relay.
const (
	DropUnknownRecipient = "unknown_recipient"
	DropMalformed        = "malformed"
	DropWriteFailed      = "write_failed"
)

// Collector defines the metrics the relay reports.
type Collector interface {
	ClientConnected()
	ClientDisconnected()
	MessageRelayed(sizeBytes int)
	MessageDropped(reason string)

	// Handler returns an HTTP handler for the metrics endpoint
	Handler() http.Handler
}

// PrometheusCollector implements Collector on a private registry, so several
// relays (tests) can coexist in one process.
type PrometheusCollector struct {
	registry *prometheus.Registry

	activeClients   prometheus.Gauge
	connections     prometheus.Counter
	disconnections  prometheus.Counter
	messagesRelayed prometheus.Counter
	messagesDropped *prometheus.CounterVec
	messageSize     prometheus.Histogram
}

// NewPrometheusCollector creates a collector with its own registry.
func NewPrometheusCollector() *PrometheusCollector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &PrometheusCollector{
		registry: reg,

		activeClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_clients",
			Help: "Number of connected signaling clients",
		}),
		connections: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_client_connections_total",
			Help: "Total number of signaling client connections",
		}),
		disconnections: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_client_disconnects_total",
			Help: "Total number of signaling client disconnections",
		}),
		messagesRelayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_relayed_total",
			Help: "Total number of signaling messages forwarded to a recipient",
		}),
		messagesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_messages_dropped_total",
				Help: "Total number of signaling messages dropped by the relay",
			},
			[]string{"reason"},
		),
		messageSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_message_size_bytes",
			Help:    "Size of forwarded signaling messages",
			Buckets: prometheus.ExponentialBuckets(64, 2, 10),
		}),
	}
}

func (c *PrometheusCollector) ClientConnected() {
	c.activeClients.Inc()
	c.connections.Inc()
}

func (c *PrometheusCollector) ClientDisconnected() {
	c.activeClients.Dec()
	c.disconnections.Inc()
}

func (c *PrometheusCollector) MessageRelayed(sizeBytes int) {
	c.messagesRelayed.Inc()
	c.messageSize.Observe(float64(sizeBytes))
}

func (c *PrometheusCollector) MessageDropped(reason string) {
	c.messagesDropped.WithLabelValues(reason).Inc()
}

// Handler returns the promhttp handler for this collector's registry.
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
