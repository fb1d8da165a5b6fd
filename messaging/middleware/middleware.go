// Package middleware 提供消息总线的发布侧中间件
package middleware

import (
	"context"
	"time"

	"restaurant/logging"
	"restaurant/messaging"
)

// CorrelationMiddleware 补全 correlation_id 元数据
//
// 优先沿用消息已有的值，其次取上下文中的关联 ID，仍缺失时使用消息 ID。
type CorrelationMiddleware struct{}

func NewCorrelationMiddleware() *CorrelationMiddleware { return &CorrelationMiddleware{} }

func (m *CorrelationMiddleware) Name() string { return "Correlation" }

func (m *CorrelationMiddleware) Handle(ctx context.Context, message messaging.IMessage, next messaging.HandlerFunc) error {
	md := message.GetMetadata()
	if md[messaging.MetaCorrelationID] == "" {
		if id := messaging.CorrelationID(ctx); id != "" {
			md[messaging.MetaCorrelationID] = id
		} else {
			md[messaging.MetaCorrelationID] = message.GetID()
		}
	}
	return next(messaging.WithCorrelationID(ctx, md[messaging.MetaCorrelationID]), message)
}

// LoggingMiddleware 记录每次发布的结果与耗时
type LoggingMiddleware struct {
	logger logging.Logger
}

func NewLoggingMiddleware(logger logging.Logger) *LoggingMiddleware {
	if logger == nil {
		logger = logging.ComponentLogger("messaging.bus")
	}
	return &LoggingMiddleware{logger: logger}
}

func (m *LoggingMiddleware) Name() string { return "Logging" }

func (m *LoggingMiddleware) Handle(ctx context.Context, message messaging.IMessage, next messaging.HandlerFunc) error {
	start := time.Now()
	err := next(ctx, message)
	fields := []logging.Field{
		logging.String("message_id", message.GetID()),
		logging.String("message_type", message.GetType()),
		logging.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		m.logger.Warn(ctx, "publish failed", append(fields, logging.Error(err))...)
		return err
	}
	m.logger.Debug(ctx, "published", fields...)
	return nil
}
