package memory

import (
	"restaurant/messaging"
)

// Subscribe 订阅消息处理器；支持通配符 "*"
func (t *MemoryTransport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	_, err := t.handlers.Add(messageType, handler)
	return err
}

// Unsubscribe 取消订阅；处理器不存在时返回错误
func (t *MemoryTransport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	_, err := t.handlers.Remove(messageType, handler)
	return err
}
