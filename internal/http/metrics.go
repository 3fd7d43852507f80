package http

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the HTTP instruments.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	active   prometheus.Gauge
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide HTTP metrics, registered on
// the default registry exactly once.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = &Metrics{
			requests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "answerd",
					Subsystem: "http",
					Name:      "requests_total",
					Help:      "Total HTTP requests by method, route and status code",
				},
				[]string{"method", "route", "status"},
			),
			duration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "answerd",
					Subsystem: "http",
					Name:      "request_duration_seconds",
					Help:      "HTTP request duration by method and route",
					Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
				},
				[]string{"method", "route"},
			),
			active: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "answerd",
					Subsystem: "http",
					Name:      "active_requests",
					Help:      "Number of in-flight HTTP requests",
				},
			),
		}
	})
	return defaultMetrics
}

// Middleware returns an Echo middleware that records request metrics.
// Labels use the registered route pattern, not the raw URI, to keep
// cardinality bounded.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			m.active.Inc()

			err := next(c)

			m.active.Dec()
			route := c.Path()
			if route == "" {
				route = "/"
			}
			method := c.Request().Method
			m.requests.WithLabelValues(method, route, strconv.Itoa(c.Response().Status)).Inc()
			m.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())

			return err
		}
	}
}
