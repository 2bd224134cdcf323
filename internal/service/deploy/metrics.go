package deploy

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/csarrepo/csarrepo/pkg/opentosca"
)

var histogramBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

type metrics struct {
	once     sync.Once
	outcomes *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var deployMetrics metrics

func register[T prometheus.Collector](c T) T {
	if err := prometheus.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) init() {
	m.once.Do(func() {
		m.outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "csarrepo",
			Subsystem: "container",
			Name:      "operations_total",
			Help:      "Outcomes of calls against OpenTOSCA containers",
		}, []string{"operation", "outcome"})

		m.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "csarrepo",
			Subsystem: "container",
			Name:      "operation_duration_seconds",
			Help:      "Latency of calls against OpenTOSCA containers",
			Buckets:   histogramBuckets,
		}, []string{"operation"})

		m.outcomes = register(m.outcomes)
		m.latency = register(m.latency)
	})
}

func (m *metrics) observe(operation string, started time.Time, err error) {
	m.init()
	m.outcomes.With(prometheus.Labels{"operation": operation, "outcome": outcome(err)}).Inc()
	m.latency.With(prometheus.Labels{"operation": operation}).Observe(time.Since(started).Seconds())
}

func outcome(err error) string {
	var rejected *opentosca.RejectedError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, opentosca.ErrUnreachable):
		return "unreachable"
	case errors.As(err, &rejected):
		return "rejected"
	case errors.Is(err, opentosca.ErrInvalidResponse):
		return "invalid_response"
	default:
		return "error"
	}
}
