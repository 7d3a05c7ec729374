package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles walletbridge's Prometheus instruments behind a private
// registry, so tests never collide on the global default registry.
type Metrics struct {
	registry *prometheus.Registry

	// ConnectionUp is 1 while the bridge holds an authenticated daemon
	// connection.
	ConnectionUp prometheus.Gauge

	// Events counts connection manager events by type
	// (connecting, connected, disconnected).
	Events *prometheus.CounterVec

	// Reconnects counts cycles started because an established connection
	// dropped.
	Reconnects prometheus.Counter

	// TokenUpdates counts externally supplied tokens accepted over the
	// local API.
	TokenUpdates prometheus.Counter

	// RPCDuration tracks the latency of calls forwarded to the daemon,
	// labeled by HTTP status code.
	RPCDuration *prometheus.HistogramVec
}

// NewMetrics builds the registry with the Go runtime and process
// collectors plus the bridge's own instruments.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		ConnectionUp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "walletbridge",
			Name:      "daemon_connection_up",
			Help:      "1 while the bridge holds an authenticated daemon connection.",
		}),
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walletbridge",
			Name:      "connection_events_total",
			Help:      "Connection manager events by type.",
		}, []string{"event"}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "walletbridge",
			Name:      "reconnects_total",
			Help:      "Connection cycles started because an established link dropped.",
		}),
		TokenUpdates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "walletbridge",
			Name:      "token_updates_total",
			Help:      "Externally supplied tokens accepted over the local API.",
		}),
		RPCDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "walletbridge",
			Name:      "rpc_request_duration_seconds",
			Help:      "Latency of RPC calls forwarded to the daemon.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"code"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
