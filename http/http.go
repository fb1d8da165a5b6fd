// Package http 定义资源路由所依赖的 HTTP 抽象；基于 net/http 的实现见 http/basic。
package http

import (
	"context"
	"net"
	"net/http"
	"net/url"
)

// 常用请求头
const (
	HeaderRequestID      = "X-Request-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// IRequestContext 请求级 context，携带请求 ID 与关联 ID
type IRequestContext interface {
	context.Context

	GetRequestID() string
	GetCorrelationID() string
}

// IHttpContext 单个请求的读写入口
type IHttpContext interface {
	GetMethod() string
	GetPath() string
	GetHeader(key string) string
	GetParam(key string) string
	GetQuery(key string) string
	GetQueryParams() url.Values
	ClientIP() string
	GetRequest() *http.Request

	// GetBody 读取请求体（受大小上限约束），重复调用返回同一份数据
	GetBody() ([]byte, error)
	BindJSON(obj any) error

	SetHeader(key, value string)
	JSON(code int, obj any) error
	String(code int, text string) error
	Data(code int, contentType string, data []byte) error

	// Status 已写出的状态码；Written 为 false 时无意义
	Status() int
	Written() bool

	GetContext() IRequestContext
	SetContext(ctx IRequestContext)
}

// HttpHandler 处理器；返回的错误由服务器统一写成错误响应
type HttpHandler func(ctx IHttpContext) error

// Middleware 中间件；调用 next 进入下一层
type Middleware func(ctx IHttpContext, next func() error) error

// IRouter 路由注册；服务器与路由组都实现它
type IRouter interface {
	Route(method, path string, handler HttpHandler) IRouter
	GET(path string, handler HttpHandler) IRouter
	POST(path string, handler HttpHandler) IRouter
	PUT(path string, handler HttpHandler) IRouter
	PATCH(path string, handler HttpHandler) IRouter
	DELETE(path string, handler HttpHandler) IRouter

	Group(prefix string) IRouter
	Use(middleware ...Middleware) IRouter
}

// IHttpServer 可监听的路由器
type IHttpServer interface {
	IRouter
	http.Handler

	// Mount 挂载原生 http.Handler（例如 /metrics），不经过中间件链
	Mount(pattern string, handler http.Handler)

	Serve(ln net.Listener) error
	Stop(ctx context.Context) error
}
