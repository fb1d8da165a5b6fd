// Package inline 提供在发布者 goroutine 内直接投递的消息传输
//
// 处理器的错误会回传给发布者，outbox 据此标记失败并按退避重试。
package inline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"restaurant/logging"
	"restaurant/messaging"
)

// Transport 同步传输；Publish 返回时所有匹配的处理器都已执行完毕
type Transport struct {
	handlers *messaging.HandlerRegistry
	logger   logging.Logger

	mu        sync.RWMutex
	running   bool
	delivered int64
}

// NewTransport 创建同步传输
func NewTransport() *Transport {
	return &Transport{
		handlers: messaging.NewHandlerRegistry(),
		logger:   logging.ComponentLogger("messaging.transport.inline"),
	}
}

// WithLogger 设置日志
func (t *Transport) WithLogger(logger logging.Logger) *Transport {
	if logger != nil {
		t.logger = logger
	}
	return t
}

// Publish 依次调用处理器，合并所有失败
func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	t.mu.RLock()
	running := t.running
	t.mu.RUnlock()
	if !running {
		return fmt.Errorf("inline transport is not running")
	}

	var errs []error
	for _, handler := range t.handlers.Lookup(message.GetType()) {
		if err := invoke(ctx, handler, message); err != nil {
			t.logger.Warn(ctx, "message handler failed",
				logging.String("handler", handler.Type()),
				logging.String("message_type", message.GetType()),
				logging.String("message_id", message.GetID()),
				logging.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", handler.Type(), err))
		}
	}

	t.mu.Lock()
	t.delivered++
	t.mu.Unlock()
	return errors.Join(errs...)
}

// PublishAll 逐条发布，遇到第一个失败即返回
func (t *Transport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	for _, message := range messages {
		if err := t.Publish(ctx, message); err != nil {
			return fmt.Errorf("publish %s: %w", message.GetID(), err)
		}
	}
	return nil
}

// Subscribe 订阅；支持通配符 "*"
func (t *Transport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	_, err := t.handlers.Add(messageType, handler)
	return err
}

// Unsubscribe 取消订阅
func (t *Transport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	_, err := t.handlers.Remove(messageType, handler)
	return err
}

// Start 开始接受发布
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return fmt.Errorf("inline transport is already running")
	}
	t.running = true
	return nil
}

// Close 停止接受发布，可重复调用
func (t *Transport) Close() error {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
	return nil
}

// Stats 返回统计；QueueDepth 恒为 0
func (t *Transport) Stats() messaging.TransportStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return messaging.RegistryStats(t.running, t.handlers)
}

// Delivered 返回已投递的消息数
func (t *Transport) Delivered() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.delivered
}

func invoke(ctx context.Context, handler messaging.IMessageHandler, message messaging.IMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, message)
}
