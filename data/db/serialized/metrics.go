package serialized

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	kindRead  = "read"
	kindWrite = "write"
)

// Metrics 连接管理器的 Prometheus 指标
type Metrics struct {
	writeWait  prometheus.Histogram
	operations *prometheus.CounterVec
	retries    *prometheus.CounterVec
}

// NewMetrics 创建指标并注册到 reg；reg 为 nil 时只创建不注册
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		writeWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "restaurant",
			Subsystem: "storage",
			Name:      "write_slot_wait_seconds",
			Help:      "Time spent waiting for the single write slot.",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restaurant",
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Storage operations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restaurant",
			Subsystem: "storage",
			Name:      "busy_retries_total",
			Help:      "Retries caused by lock contention.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) observeWait(d time.Duration) {
	if m == nil {
		return
	}
	m.writeWait.Observe(d.Seconds())
}

func (m *Metrics) observeOutcome(kind, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) observeRetry(kind string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(kind).Inc()
}
