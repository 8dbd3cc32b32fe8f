package fs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records dispatcher activity. A nil *Metrics records nothing.
type Metrics struct {
	Operations *prometheus.CounterVec
	Latencies  *prometheus.HistogramVec
	Bytes      *prometheus.CounterVec
}

// NewMetrics provisions the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lfuse_operations_total",
			Help: "Total number of filesystem operations by result",
		}, []string{"op", "result"}),
		Latencies: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lfuse_operation_latency_seconds",
			Help:    "Latency of filesystem operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		Bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lfuse_bytes_total",
			Help: "Bytes transferred by read and write operations",
		}, []string{"direction"}),
	}

	reg.MustRegister(m.Operations, m.Latencies, m.Bytes)
	return m
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Operations.WithLabelValues(op, result).Inc()
	m.Latencies.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) transferred(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Bytes.WithLabelValues(direction).Add(float64(n))
}
