package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the broker.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	ActiveSessions    prometheus.Gauge
	ConnectionEvents  *prometheus.CounterVec
	Envelopes         *prometheus.CounterVec
	ErrorNotices      *prometheus.CounterVec
	RelayChunks       prometheus.Counter
	Evictions         prometheus.Counter
	FirstDeltaLatency prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of admitted live connections.",
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of tracked sessions, including orphaned ones in their grace period.",
		}),
		ConnectionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_events_total",
			Help:      "Connection lifecycle events by type.",
		}, []string{"event"}),
		Envelopes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_total",
			Help:      "Envelopes by direction and kind.",
		}, []string{"direction", "kind"}),
		ErrorNotices: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "error_notices_total",
			Help:      "Error notices sent to clients by code.",
		}, []string{"code"}),
		RelayChunks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_chunks_total",
			Help:      "Content deltas relayed from the engine to clients.",
		}),
		Evictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_evictions_total",
			Help:      "Connections evicted by the heartbeat sweep.",
		}),
		FirstDeltaLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_delta_latency_ms",
			Help:      "Latency from content request to first relayed delta in milliseconds.",
			Buckets:   []float64{50, 100, 200, 300, 500, 700, 1000, 2000, 5000},
		}),
	}
}

func (m *Metrics) ObserveFirstDeltaLatency(d time.Duration) {
	m.FirstDeltaLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
