package basic

import (
	"fmt"
	"runtime/debug"
	"time"

	"restaurant/codegen/snowflake"
	"restaurant/errors"
	httpx "restaurant/http"
	"restaurant/logging"
)

// RequestID 为每个请求分配 X-Request-ID 并写回响应头
func RequestID(gen *snowflake.Generator) httpx.Middleware {
	return func(ctx httpx.IHttpContext, next func() error) error {
		id := httpx.ResolveRequestID(ctx.GetHeader(httpx.HeaderRequestID), gen)
		if id != "" {
			ctx.SetHeader(httpx.HeaderRequestID, id)
			ctx.SetContext(WithRequestID(ctx.GetContext(), id))
		}
		return next()
	}
}

// Recovery 将处理器中的 panic 转为 500 响应
func Recovery(logger logging.Logger) httpx.Middleware {
	if logger == nil {
		logger = logging.ComponentLogger("http.recovery")
	}
	return func(ctx httpx.IHttpContext, next func() error) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(ctx.GetContext(), "panic in handler",
					logging.String("method", ctx.GetMethod()),
					logging.String("path", ctx.GetPath()),
					logging.Any("panic", r),
					logging.String("stack", string(debug.Stack())))
				err = errors.NewError(errors.ErrCodeInternal, fmt.Sprintf("panic: %v", r))
			}
		}()
		return next()
	}
}

// AccessLog 在 Debug 级别记录每个请求的状态码与耗时
//
// 处理器返回的错误在这里写成响应，日志中的状态码即客户端收到的状态码。
func AccessLog(logger logging.Logger) httpx.Middleware {
	if logger == nil {
		logger = logging.ComponentLogger("http.access")
	}
	return func(ctx httpx.IHttpContext, next func() error) error {
		start := time.Now()
		err := next()
		if err != nil {
			_ = (&HttpUtils{}).WriteErrorResponse(ctx, err)
		}

		fields := []logging.Field{
			logging.String("method", ctx.GetMethod()),
			logging.String("path", ctx.GetPath()),
			logging.Int("status", ctx.Status()),
			logging.String("client_ip", ctx.ClientIP()),
			logging.Duration("elapsed", time.Since(start)),
			logging.String("request_id", ctx.GetContext().GetRequestID()),
		}
		if err != nil {
			fields = append(fields, logging.Error(err))
		}
		logger.Debug(ctx.GetContext(), "http request", fields...)
		return nil
	}
}
