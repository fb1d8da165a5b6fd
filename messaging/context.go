package messaging

import "context"

type correlationKey struct{}

// WithCorrelationID 在上下文中携带关联 ID（通常是 HTTP 请求 ID）
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID 读取上下文中的关联 ID
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// ContextFromMessage 将消息元数据中的关联 ID 还原到上下文（消费侧使用）
func ContextFromMessage(ctx context.Context, message IMessage) context.Context {
	return WithCorrelationID(ctx, message.GetMetadata()[MetaCorrelationID])
}
