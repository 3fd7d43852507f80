package vectorstore

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus instruments shared by all backends.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide metrics, registered on the
// default registry exactly once.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = &Metrics{
			operations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "answerd",
					Subsystem: "vectorstore",
					Name:      "operations_total",
					Help:      "Total vector store operations by backend, operation and result",
				},
				[]string{"backend", "operation", "result"},
			),
			duration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "answerd",
					Subsystem: "vectorstore",
					Name:      "operation_duration_seconds",
					Help:      "Duration of vector store operations in seconds",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"backend", "operation"},
			),
		}
	})
	return defaultMetrics
}

func (m *Metrics) observe(backend, operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(backend, operation, result).Inc()
	m.duration.WithLabelValues(backend, operation).Observe(elapsed.Seconds())
}
