package dispatcher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"restaurant/errors"
)

// Metrics 调度器的 Prometheus 指标
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	retries  *prometheus.CounterVec
}

// NewMetrics 创建指标并注册到 reg；reg 为 nil 时只创建不注册
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restaurant",
			Subsystem: "dispatcher",
			Name:      "requests_total",
			Help:      "Dispatched requests by operation, entity and outcome.",
		}, []string{"operation", "entity", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "restaurant",
			Subsystem: "dispatcher",
			Name:      "request_duration_seconds",
			Help:      "Time from receipt to completion of a dispatched request.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "entity"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restaurant",
			Subsystem: "dispatcher",
			Name:      "retries_total",
			Help:      "Retries after transient storage errors.",
		}, []string{"operation", "entity"}),
	}
}

func (m *Metrics) observe(req Request, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(string(req.Operation), string(req.Entity), outcome).Inc()
	m.duration.WithLabelValues(string(req.Operation), string(req.Entity)).Observe(d.Seconds())
}

func (m *Metrics) retried(req Request) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(string(req.Operation), string(req.Entity)).Inc()
}

// outcome 将错误码折叠为低基数的标签值
func outcome(code errors.ErrorCode) string {
	switch code {
	case errors.ErrCodeInvalidInput, errors.ErrCodeValidation:
		return "invalid"
	case errors.ErrCodeNotFound:
		return "not_found"
	case errors.ErrCodeConflict:
		return "conflict"
	case errors.ErrCodeTransientStorage, errors.ErrCodeServiceUnavailable, errors.ErrCodeTimeout:
		return "unavailable"
	case "":
		return "ok"
	}
	return "error"
}
