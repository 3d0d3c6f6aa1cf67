package backup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts backup store activity. A nil *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	bytes      *prometheus.CounterVec
	evictions  *prometheus.CounterVec
}

// NewMetrics registers the backup collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "navsync_backup_operations_total",
			Help: "Backup store operations by operation, backup type and result",
		}, []string{"operation", "type", "result"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "navsync_backup_bytes_written_total",
			Help: "Payload bytes written to blob storage",
		}, []string{"type"}),
		evictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "navsync_backup_evictions_total",
			Help: "Backups removed by the retention policy",
		}, []string{"type", "result"}),
	}
}

func (m *Metrics) op(operation, typ, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, typ, result).Inc()
}

func (m *Metrics) written(typ string, n int) {
	if m == nil {
		return
	}
	m.bytes.WithLabelValues(typ).Add(float64(n))
}

func (m *Metrics) evicted(typ, result string) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(typ, result).Inc()
}
