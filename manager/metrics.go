package manager

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks lifecycle manager activity. A nil *Metrics records nothing.
type Metrics struct {
	// OperationsTotal counts manager operations by op and status.
	OperationsTotal *prometheus.CounterVec

	// Archives is the number of registered archives.
	Archives prometheus.Gauge

	// OpenDuration tracks how long archive opens take.
	OpenDuration prometheus.Histogram
}

// NewMetrics creates the manager metrics and registers them with reg.
// Panics if registration fails.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_manager_operations_total",
				Help: "Total archive manager operations by operation and status",
			},
			[]string{"op", "status"}, // status: "ok", "error"
		),
		Archives: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_manager_archives",
				Help: "Current number of archives under management",
			},
		),
		OpenDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "archiver_manager_open_duration_seconds",
				Help:    "Archive open duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
	reg.MustRegister(m.OperationsTotal, m.Archives, m.OpenDuration)
	return m
}

func (m *Metrics) recordOp(op string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(op, status).Inc()
}

func (m *Metrics) setArchives(n int) {
	if m == nil {
		return
	}
	m.Archives.Set(float64(n))
}

func (m *Metrics) observeOpen(start time.Time) {
	if m == nil {
		return
	}
	m.OpenDuration.Observe(time.Since(start).Seconds())
}
