package http

import (
	"context"

	"restaurant/codegen/snowflake"
	"restaurant/messaging"
)

// maxRequestIDLen 客户端传入的请求 ID 超过此长度时重新生成
const maxRequestIDLen = 128

// WithCorrelationID 在 context 中设置 correlation_id
//
// Correlation ID 即 HTTP 请求 ID，随订单变更写入 outbox，
// 厨房订阅者从消息元数据中还原。
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return messaging.WithCorrelationID(ctx, id)
}

// GetCorrelationID 从 context 中获取 correlation_id，不存在时返回空字符串
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	return messaging.CorrelationID(ctx)
}

// ResolveRequestID 优先使用客户端传入的 X-Request-ID，否则用 gen 生成
func ResolveRequestID(header string, gen *snowflake.Generator) string {
	if header != "" && len(header) <= maxRequestIDLen && printable(header) {
		return header
	}
	if gen == nil {
		return ""
	}
	id, err := gen.Next()
	if err != nil {
		return ""
	}
	return id.String()
}

func printable(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
