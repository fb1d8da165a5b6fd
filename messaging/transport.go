package messaging

import (
	"context"
)

// Wildcard 订阅所有消息类型
const Wildcard = "*"

// Publisher 把消息交给下游
type Publisher interface {
	Publish(ctx context.Context, message IMessage) error
	// PublishAll 按顺序发布，遇到第一个错误即返回
	PublishAll(ctx context.Context, messages []IMessage) error
}

// Subscriber 按消息类型登记处理器，messageType 可为 Wildcard
type Subscriber interface {
	Subscribe(messageType string, handler IMessageHandler) error
	Unsubscribe(messageType string, handler IMessageHandler) error
}

// Transport 厨房事件的投递通道：memory、inline、nats 与 redis 各有一种实现
//
// Start 之前 Publish 返回错误；Close 可重复调用。
type Transport interface {
	Publisher
	Subscriber
	Start(ctx context.Context) error
	Close() error
	Stats() TransportStats
}

// TransportStats 传输快照，queue 字段仅异步实现填写
type TransportStats struct {
	Running      bool     `json:"running"`
	HandlerCount int      `json:"handler_count"`
	MessageTypes []string `json:"message_types"`
	QueueSize    int      `json:"queue_size,omitempty"`
	QueueDepth   int      `json:"queue_depth,omitempty"`
	WorkerCount  int      `json:"worker_count,omitempty"`
}

// RegistryStats 由处理器登记表生成快照
func RegistryStats(running bool, handlers *HandlerRegistry) TransportStats {
	return TransportStats{
		Running:      running,
		HandlerCount: handlers.Count(),
		MessageTypes: handlers.Types(),
	}
}
