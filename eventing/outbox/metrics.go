package outbox

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics Outbox 发布指标
type Metrics struct {
	results *prometheus.CounterVec
}

// NewMetrics 创建并注册指标；reg 为 nil 时仅创建不注册
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		results: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "restaurant",
			Subsystem: "outbox",
			Name:      "publish_results_total",
			Help:      "Outbox publish attempts by event type and result.",
		}, []string{"event_type", "result"}),
	}
}

func (m *Metrics) observePublished(eventType string) { m.observe(eventType, "published") }
func (m *Metrics) observeFailed(eventType string)    { m.observe(eventType, "failed") }
func (m *Metrics) observeDead(eventType string)      { m.observe(eventType, "dead") }

func (m *Metrics) observe(eventType, result string) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(eventType, result).Inc()
}

// HealthStatus 健康状态
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// Thresholds 健康阈值
type Thresholds struct {
	MaxPending int64
	MaxFailed  int64
	MaxDead    int64
}

// DefaultThresholds 默认阈值
func DefaultThresholds() Thresholds {
	return Thresholds{MaxPending: 10000, MaxFailed: 1000, MaxDead: 100}
}

// Health 根据统计信息评估健康状态：一项超限为 degraded，多项为 unhealthy
func (s Statistics) Health(th Thresholds) (HealthStatus, []string) {
	var issues []string
	if s.Pending > th.MaxPending {
		issues = append(issues, fmt.Sprintf("pending %d > %d", s.Pending, th.MaxPending))
	}
	if s.Failed > th.MaxFailed {
		issues = append(issues, fmt.Sprintf("failed %d > %d", s.Failed, th.MaxFailed))
	}
	if s.Dead > th.MaxDead {
		issues = append(issues, fmt.Sprintf("dead %d > %d", s.Dead, th.MaxDead))
	}
	switch len(issues) {
	case 0:
		return HealthStatusHealthy, nil
	case 1:
		return HealthStatusDegraded, issues
	default:
		return HealthStatusUnhealthy, issues
	}
}
