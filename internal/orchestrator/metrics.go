package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline instruments.
type Metrics struct {
	outcomes *prometheus.CounterVec
	duration prometheus.Histogram
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide pipeline metrics, registered
// on the default registry exactly once.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = &Metrics{
			outcomes: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "answerd",
					Subsystem: "pipeline",
					Name:      "messages_total",
					Help:      "Total handled messages by outcome",
				},
				[]string{"outcome"},
			),
			duration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: "answerd",
					Subsystem: "pipeline",
					Name:      "message_duration_seconds",
					Help:      "End-to-end duration of answered messages in seconds",
					Buckets:   prometheus.DefBuckets,
				},
			),
		}
	})
	return defaultMetrics
}

func (m *Metrics) outcome(name string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(name).Inc()
}
