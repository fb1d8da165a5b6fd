package memory

import (
	"context"
	"fmt"

	"restaurant/logging"
	"restaurant/messaging"
)

// dispatch 依次调用精确匹配与通配符处理器
//
// 单个处理器失败或 panic 不影响其他处理器。
func (t *MemoryTransport) dispatch(ctx context.Context, message messaging.IMessage) {
	for _, handler := range t.handlers.Lookup(message.GetType()) {
		if err := t.invoke(ctx, handler, message); err != nil {
			t.logger.Warn(ctx, "message handler failed",
				logging.String("handler", handler.Type()),
				logging.String("message_type", message.GetType()),
				logging.String("message_id", message.GetID()),
				logging.Error(err))
		}
	}
}

func (t *MemoryTransport) invoke(ctx context.Context, handler messaging.IMessageHandler, message messaging.IMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, message)
}
