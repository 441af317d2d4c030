package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the client.
type Metrics struct {
	Exchanges        prometheus.Counter
	ResolverOutcomes *prometheus.CounterVec
	StoreErrors      *prometheus.CounterVec
	RequestRetries   prometheus.Counter
	RequestLatency   prometheus.Histogram
	TurnsInFlight    prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Exchanges: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "Completed prompt/response exchanges.",
		}),
		ResolverOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_outcomes_total",
			Help:      "Continuation resolutions by path taken.",
		}, []string{"path"}),
		StoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Persistence failures by operation.",
		}, []string{"op"}),
		RequestRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_retries_total",
			Help:      "Model requests retried after a retryable failure.",
		}),
		RequestLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_ms",
			Help:      "Full model request latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000, 60000},
		}),
		TurnsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "turns_in_flight",
			Help:      "Model turns currently in flight (0 or 1).",
		}),
	}
}

func (m *Metrics) ObserveRequestLatency(d time.Duration) {
	m.RequestLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
