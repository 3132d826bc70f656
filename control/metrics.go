// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus metrics for registry lifecycle and poll cycles.

package control

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hioload_mux"

// Metrics holds the registry collectors.
type Metrics struct {
	endpoints    prometheus.Gauge
	created      *prometheus.CounterVec
	removed      prometheus.Counter
	polls        prometheus.Counter
	pollErrors   prometheus.Counter
	pollReady    prometheus.Histogram
	pollDuration prometheus.Histogram
}

// NewMetrics creates and registers the collectors. A nil registerer returns
// nil metrics.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &Metrics{
		endpoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "endpoints",
			Help:      "Endpoints currently registered",
		}),
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoints_created_total",
			Help:      "Endpoints registered, by kind",
		}, []string{"kind"}),
		removed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoints_removed_total",
			Help:      "Endpoints removed from the registry",
		}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Completed poll cycles",
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Poll cycles that failed in the OS multiplexer",
		}),
		pollReady: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_ready",
			Help:      "Handles reported ready per poll cycle",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 64, 256, 1024},
		}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Time spent blocked in poll",
			Buckets:   []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}
	for _, c := range []prometheus.Collector{
		m.endpoints, m.created, m.removed, m.polls, m.pollErrors, m.pollReady, m.pollDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// EndpointCreated records a registration of kind.
func (m *Metrics) EndpointCreated(kind string) {
	if m == nil {
		return
	}
	m.created.WithLabelValues(kind).Inc()
	m.endpoints.Inc()
}

// EndpointRemoved records a removal.
func (m *Metrics) EndpointRemoved() {
	if m == nil {
		return
	}
	m.removed.Inc()
	m.endpoints.Dec()
}

// PollCompleted records one poll cycle.
func (m *Metrics) PollCompleted(ready int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.polls.Inc()
	m.pollDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.pollErrors.Inc()
		return
	}
	m.pollReady.Observe(float64(ready))
}
