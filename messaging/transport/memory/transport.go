// Package memory 提供基于内存队列的消息传输实现
// 适用于单进程部署、开发环境和测试场景
package memory

import (
	"context"
	"fmt"
	"sync"

	"restaurant/logging"
	"restaurant/messaging"
)

// MemoryTransport 内存消息传输实现
//
// 消息先进入有界队列，再由 Worker 池异步分发给订阅者。
// 处理器错误只记录日志，不会回传给发布者。
type MemoryTransport struct {
	handlers    *messaging.HandlerRegistry
	queue       chan messaging.IMessage
	queueSize   int
	workerCount int
	logger      logging.Logger

	running bool
	mutex   sync.RWMutex
	wg      sync.WaitGroup
}

// NewMemoryTransport 创建内存传输实例
//
// queueSize <= 0 时使用 1000，workerCount <= 0 时使用 4。
func NewMemoryTransport(queueSize, workerCount int) *MemoryTransport {
	if queueSize <= 0 {
		queueSize = 1000
	}
	if workerCount <= 0 {
		workerCount = 4
	}
	return newMemoryTransport(queueSize, workerCount)
}

// NewMemoryTransportForTest 创建 0 worker 的实例，仅用于验证队列 drain 行为
func NewMemoryTransportForTest(queueSize int) *MemoryTransport {
	if queueSize <= 0 {
		queueSize = 1000
	}
	return newMemoryTransport(queueSize, 0)
}

func newMemoryTransport(queueSize, workerCount int) *MemoryTransport {
	return &MemoryTransport{
		handlers:    messaging.NewHandlerRegistry(),
		queue:       make(chan messaging.IMessage, queueSize),
		queueSize:   queueSize,
		workerCount: workerCount,
		logger:      logging.ComponentLogger("transport.memory"),
	}
}

// WithLogger 替换日志器
func (t *MemoryTransport) WithLogger(logger logging.Logger) *MemoryTransport {
	if logger != nil {
		t.logger = logger
	}
	return t
}

// Publish 发布消息到队列；队列满时立即返回错误
func (t *MemoryTransport) Publish(ctx context.Context, message messaging.IMessage) error {
	// 持读锁发送，避免与 Close 关闭队列竞争
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if !t.running {
		return fmt.Errorf("memory transport is not running")
	}
	return t.enqueueLocked(ctx, message)
}

// PublishAll 批量发布消息到队列；任一消息失败即返回
func (t *MemoryTransport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	if len(messages) == 0 {
		return nil
	}

	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if !t.running {
		return fmt.Errorf("memory transport is not running")
	}
	for _, message := range messages {
		if err := t.enqueueLocked(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

func (t *MemoryTransport) enqueueLocked(ctx context.Context, message messaging.IMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case t.queue <- message:
		return nil
	default:
		return fmt.Errorf("message queue is full")
	}
}

// Stats 获取统计信息
func (t *MemoryTransport) Stats() messaging.TransportStats {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	stats := messaging.RegistryStats(t.running, t.handlers)
	stats.QueueSize = t.queueSize
	stats.QueueDepth = len(t.queue)
	stats.WorkerCount = t.workerCount
	return stats
}
