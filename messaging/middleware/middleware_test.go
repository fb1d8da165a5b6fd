package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"restaurant/logging"
	"restaurant/messaging"
)

func TestCorrelationMiddleware(t *testing.T) {
	mw := NewCorrelationMiddleware()
	var seen string
	next := func(ctx context.Context, _ messaging.IMessage) error {
		seen = messaging.CorrelationID(ctx)
		return nil
	}

	// 上下文中的请求 ID 优先于消息 ID
	msg := messaging.NewMessage("evt-1", "order.created", nil)
	ctx := messaging.WithCorrelationID(context.Background(), "req-7")
	assert.NoError(t, mw.Handle(ctx, msg, next))
	assert.Equal(t, "req-7", msg.GetMetadata()[messaging.MetaCorrelationID])
	assert.Equal(t, "req-7", seen)

	// 已有元数据不被覆盖
	assert.NoError(t, mw.Handle(context.Background(), msg, next))
	assert.Equal(t, "req-7", msg.GetMetadata()[messaging.MetaCorrelationID])

	// 兜底为消息 ID
	bare := messaging.NewMessage("evt-2", "order.created", nil)
	assert.NoError(t, mw.Handle(context.Background(), bare, next))
	assert.Equal(t, "evt-2", bare.GetMetadata()[messaging.MetaCorrelationID])
}

func TestLoggingMiddleware_PassesErrorThrough(t *testing.T) {
	mw := NewLoggingMiddleware(logging.NewNoopLogger())
	boom := errors.New("transport down")
	err := mw.Handle(context.Background(), messaging.NewMessage("evt-1", "x", nil),
		func(context.Context, messaging.IMessage) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "Logging", mw.Name())
}
