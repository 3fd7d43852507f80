package embeddings

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks embedding generation via Prometheus.
type Metrics struct {
	requests *prometheus.CounterVec
	texts    prometheus.Counter
	duration prometheus.Histogram
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide embedding metrics, registered
// once on the default Prometheus registry.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = &Metrics{
			requests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "answerd",
					Subsystem: "embeddings",
					Name:      "requests_total",
					Help:      "Total number of embedding API requests",
				},
				[]string{"result"},
			),
			texts: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "answerd",
					Subsystem: "embeddings",
					Name:      "texts_total",
					Help:      "Total number of texts embedded",
				},
			),
			duration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: "answerd",
					Subsystem: "embeddings",
					Name:      "request_duration_seconds",
					Help:      "Duration of embedding API requests in seconds",
					Buckets:   prometheus.DefBuckets,
				},
			),
		}
	})
	return defaultMetrics
}

// observe records one embedding API call.
func (m *Metrics) observe(textCount int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.requests.WithLabelValues(result).Inc()
	if err == nil {
		m.texts.Add(float64(textCount))
	}
	m.duration.Observe(elapsed.Seconds())
}
