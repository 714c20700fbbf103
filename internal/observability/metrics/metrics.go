package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "clinic"
	subsystem = "booking"
)

// BookingMetrics exposes counters/histograms for booking flows.
type BookingMetrics struct {
	requestsTotal *prometheus.CounterVec
	lockWait      *prometheus.HistogramVec
	mirrorTasks   *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Booking operations by outcome code",
		}, []string{"op", "result"}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the booking lock",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"scope"}),
		mirrorTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "mirror_tasks_total",
			Help:      "Post-commit mirror tasks by final state",
		}, []string{"task", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.lockWait, m.mirrorTasks)
	return m
}

// ObserveRequest records one booking operation. result is "ok" or an error code.
func (m *BookingMetrics) ObserveRequest(op, result string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(op, result).Inc()
}

func (m *BookingMetrics) ObserveLockWait(scope string, d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(scope).Observe(d.Seconds())
}

func (m *BookingMetrics) ObserveMirrorTask(task, status string) {
	if m == nil {
		return
	}
	m.mirrorTasks.WithLabelValues(task, status).Inc()
}
