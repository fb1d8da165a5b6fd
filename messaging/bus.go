package messaging

import (
	"context"
	"fmt"
	"sync"
)

// IMiddleware 发布侧中间件，调用 next 继续向传输发送
type IMiddleware interface {
	Handle(ctx context.Context, message IMessage, next HandlerFunc) error
	Name() string
}

// IMessageBus outbox 发布器与厨房订阅者依赖的总线接口
type IMessageBus interface {
	Publisher
	Subscriber
	Use(middleware IMiddleware)
}

var _ IMessageBus = (*MessageBus)(nil)

// MessageBus 在 Transport 之上叠加中间件；订阅直接委托给传输
type MessageBus struct {
	transport Transport

	mu          sync.RWMutex
	middlewares []IMiddleware
}

func NewMessageBus(transport Transport) *MessageBus {
	return &MessageBus{transport: transport}
}

func (bus *MessageBus) Transport() Transport { return bus.transport }

// Use 追加中间件；先登记的在外层
func (bus *MessageBus) Use(middleware IMiddleware) {
	bus.mu.Lock()
	bus.middlewares = append(bus.middlewares, middleware)
	bus.mu.Unlock()
}

func (bus *MessageBus) Subscribe(messageType string, handler IMessageHandler) error {
	return bus.transport.Subscribe(messageType, handler)
}

func (bus *MessageBus) Unsubscribe(messageType string, handler IMessageHandler) error {
	return bus.transport.Unsubscribe(messageType, handler)
}

func (bus *MessageBus) Publish(ctx context.Context, message IMessage) error {
	return bus.wrap(bus.transport.Publish)(ctx, message)
}

// PublishAll 每条消息先单独走完中间件，全部通过后整批交给传输
func (bus *MessageBus) PublishAll(ctx context.Context, messages []IMessage) error {
	if len(messages) == 0 {
		return nil
	}

	accepted := make([]IMessage, 0, len(messages))
	admit := bus.wrap(func(_ context.Context, msg IMessage) error {
		accepted = append(accepted, msg)
		return nil
	})
	for _, message := range messages {
		if err := admit(ctx, message); err != nil {
			return fmt.Errorf("publish %s: %w", message.GetID(), err)
		}
	}
	if len(accepted) == 0 {
		return nil
	}
	if err := bus.transport.PublishAll(ctx, accepted); err != nil {
		return fmt.Errorf("publish batch of %d: %w", len(accepted), err)
	}
	return nil
}

func (bus *MessageBus) wrap(final HandlerFunc) HandlerFunc {
	bus.mu.RLock()
	middlewares := bus.middlewares
	bus.mu.RUnlock()

	h := final
	for i := len(middlewares) - 1; i >= 0; i-- {
		mw, next := middlewares[i], h
		h = func(ctx context.Context, msg IMessage) error {
			return mw.Handle(ctx, msg, next)
		}
	}
	return h
}
