package quota

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the quota instruments.
type Metrics struct {
	checks   *prometheus.CounterVec
	recorded prometheus.Counter
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide quota metrics, registered on
// the default registry exactly once.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = &Metrics{
			checks: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "answerd",
					Subsystem: "quota",
					Name:      "checks_total",
					Help:      "Total quota checks by result (allowed, limited, revoked)",
				},
				[]string{"result"},
			),
			recorded: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "answerd",
					Subsystem: "quota",
					Name:      "requests_recorded_total",
					Help:      "Total requests charged against quotas",
				},
			),
		}
	})
	return defaultMetrics
}

func (m *Metrics) check(result string) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(result).Inc()
}
