// Package outbox 实现 Outbox Pattern：订单变更与厨房事件在同一事务中落库，
// 由后台发布器异步转发到消息传输层。
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	core "restaurant/data/db"
	"restaurant/domain"
	"restaurant/messaging"
)

// OutboxStatus 表示 Outbox 记录的状态
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"   // 待发布
	OutboxStatusPublished OutboxStatus = "published" // 已发布
	OutboxStatusFailed    OutboxStatus = "failed"    // 发布失败，等待重试
	OutboxStatusDead      OutboxStatus = "dead"      // 超过最大重试次数
)

// OutboxEntry 表示一个待发布的事件记录
type OutboxEntry struct {
	ID            int64        `db:"id" json:"id"`
	AggregateID   int64        `db:"aggregate_id" json:"aggregate_id"`
	AggregateType string       `db:"aggregate_type" json:"aggregate_type"`
	EventID       string       `db:"event_id" json:"event_id"`
	EventType     string       `db:"event_type" json:"event_type"`
	EventData     string       `db:"event_data" json:"event_data"`
	CorrelationID string       `db:"correlation_id" json:"correlation_id,omitempty"`
	Status        OutboxStatus `db:"status" json:"status"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	PublishedAt   *time.Time   `db:"published_at" json:"published_at,omitempty"`
	RetryCount    int          `db:"retry_count" json:"retry_count"`
	LastError     *string      `db:"last_error" json:"last_error,omitempty"`
	NextRetryAt   *time.Time   `db:"next_retry_at" json:"next_retry_at,omitempty"`
}

// TableName 返回数据库表名
func (OutboxEntry) TableName() string {
	return "event_outbox"
}

// NewEntry 将领域事件转换为 Outbox 记录
func NewEntry(event domain.IDomainEvent, correlationID string, now time.Time) (*OutboxEntry, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", event.EventType(), err)
	}
	return &OutboxEntry{
		AggregateID:   event.AggregateID(),
		AggregateType: event.AggregateType(),
		EventID:       uuid.NewString(),
		EventType:     event.EventType(),
		EventData:     string(data),
		CorrelationID: correlationID,
		Status:        OutboxStatusPending,
		CreatedAt:     now.UTC(),
	}, nil
}

// ToMessage 将记录转换为可投递的消息；消息 ID 即事件 ID，便于下游去重
func (entry *OutboxEntry) ToMessage() *messaging.Message {
	msg := messaging.NewMessage(entry.EventID, entry.EventType, []byte(entry.EventData))
	msg.Timestamp = entry.CreatedAt
	msg.SetMetadata(messaging.MetaAggregateID, fmt.Sprintf("%d", entry.AggregateID))
	msg.SetMetadata(messaging.MetaAggregateType, entry.AggregateType)
	if entry.CorrelationID != "" {
		msg.SetMetadata(messaging.MetaCorrelationID, entry.CorrelationID)
	}
	return msg
}

// ShouldRetry 判断是否应该重试
func (entry *OutboxEntry) ShouldRetry(maxRetries int, now time.Time) bool {
	return entry.Status == OutboxStatusFailed &&
		entry.RetryCount < maxRetries &&
		(entry.NextRetryAt == nil || !now.Before(*entry.NextRetryAt))
}

// CalculateNextRetryTime 计算下次重试时间（指数退避，最多放大 32 倍）
func (entry *OutboxEntry) CalculateNextRetryTime(baseInterval time.Duration, now time.Time) time.Time {
	retryCount := entry.RetryCount
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 5 {
		retryCount = 5
	}
	return now.Add(baseInterval * time.Duration(1<<retryCount))
}

// IOutboxRepository 定义 Outbox 仓储接口
type IOutboxRepository interface {
	// Append 在调用方的写事务中追加事件
	Append(ctx context.Context, tx core.ITransaction, events ...domain.IDomainEvent) error

	// GetPendingEntries 获取待发布（含到期重试）的记录，按写入顺序
	GetPendingEntries(ctx context.Context, limit int) ([]OutboxEntry, error)

	// MarkAsPublished 标记记录为已发布
	MarkAsPublished(ctx context.Context, entryID int64) error

	// MarkAsFailed 标记记录为发布失败，并设置下次重试时间
	MarkAsFailed(ctx context.Context, entryID int64, errorMsg string, nextRetryAt time.Time) error

	// MarkAsDead 标记记录为不再重试
	MarkAsDead(ctx context.Context, entryID int64, errorMsg string) error

	// Requeue 将 dead 记录重新置为 pending 并清零重试计数
	Requeue(ctx context.Context, entryID int64) error

	// DeletePublished 删除早于 olderThan 的已发布记录
	DeletePublished(ctx context.Context, olderThan time.Time) (int64, error)

	// Statistics 返回各状态计数
	Statistics(ctx context.Context) (*Statistics, error)
}

// IOutboxPublisher 定义 Outbox 发布器接口
type IOutboxPublisher interface {
	// Start 启动后台发布任务
	Start(ctx context.Context) error

	// Stop 停止后台发布任务
	Stop() error

	// PublishPending 手动触发一次发布，返回成功发布的条数
	PublishPending(ctx context.Context) (int, error)
}

// OutboxConfig Outbox 配置
type OutboxConfig struct {
	PublishInterval time.Duration `json:"publish_interval"`
	BatchSize       int           `json:"batch_size"`
	MaxRetries      int           `json:"max_retries"`
	RetryInterval   time.Duration `json:"retry_interval"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
	RetentionPeriod time.Duration `json:"retention_period"`
}

// DefaultOutboxConfig 返回默认配置
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		PublishInterval: 500 * time.Millisecond,
		BatchSize:       100,
		MaxRetries:      5,
		RetryInterval:   2 * time.Second,
		CleanupInterval: time.Hour,
		RetentionPeriod: 24 * time.Hour,
	}
}

func (c *OutboxConfig) applyDefaults() {
	def := DefaultOutboxConfig()
	if c.PublishInterval <= 0 {
		c.PublishInterval = def.PublishInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = def.RetryInterval
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	if c.RetentionPeriod <= 0 {
		c.RetentionPeriod = def.RetentionPeriod
	}
}

// Statistics Outbox 统计信息
type Statistics struct {
	Pending   int64 `db:"pending" json:"pending"`
	Published int64 `db:"published" json:"published"`
	Failed    int64 `db:"failed" json:"failed"`
	Dead      int64 `db:"dead" json:"dead"`
}
