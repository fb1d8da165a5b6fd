package messaging

import (
	"fmt"
	"sort"
	"sync"
)

// HandlerRegistry 按消息类型登记处理器，供各传输实现共用
//
// 查找时同时返回精确匹配与通配符 "*" 的处理器。
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string][]IMessageHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string][]IMessageHandler)}
}

// Add 登记处理器；返回该类型是否为首次登记
func (r *HandlerRegistry) Add(messageType string, handler IMessageHandler) (first bool, err error) {
	if messageType == "" {
		return false, fmt.Errorf("message type is required")
	}
	if handler == nil {
		return false, fmt.Errorf("handler is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	first = len(r.handlers[messageType]) == 0
	r.handlers[messageType] = append(r.handlers[messageType], handler)
	return first, nil
}

// Remove 移除处理器；返回该类型是否已无处理器
func (r *HandlerRegistry) Remove(messageType string, handler IMessageHandler) (empty bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handlers, ok := r.handlers[messageType]
	if !ok {
		return true, fmt.Errorf("no handlers for message type %s", messageType)
	}
	for i, h := range handlers {
		if h == handler {
			rest := make([]IMessageHandler, 0, len(handlers)-1)
			rest = append(rest, handlers[:i]...)
			rest = append(rest, handlers[i+1:]...)
			if len(rest) == 0 {
				delete(r.handlers, messageType)
				return true, nil
			}
			r.handlers[messageType] = rest
			return false, nil
		}
	}
	return false, fmt.Errorf("handler not found for message type %s", messageType)
}

// Lookup 返回处理该类型消息的处理器副本
func (r *HandlerRegistry) Lookup(messageType string) []IMessageHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exact := r.handlers[messageType]
	wildcard := r.handlers[Wildcard]
	out := make([]IMessageHandler, 0, len(exact)+len(wildcard))
	out = append(out, exact...)
	if messageType != Wildcard {
		out = append(out, wildcard...)
	}
	return out
}

// Exact 只返回以 messageType 原样登记的处理器；按类型分队列消费的传输用它避免重复投递
func (r *HandlerRegistry) Exact(messageType string) []IMessageHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]IMessageHandler(nil), r.handlers[messageType]...)
}

// Types 返回已登记的消息类型（排序后）
func (r *HandlerRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for mt := range r.handlers {
		types = append(types, mt)
	}
	sort.Strings(types)
	return types
}

// Count 返回处理器总数
func (r *HandlerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, hs := range r.handlers {
		n += len(hs)
	}
	return n
}
