// Package api 将餐厅资源的 REST 路由绑定到请求调度器
package api

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	core "restaurant/http"
)

// RouteConfig 路由配置
type RouteConfig struct {
	// 资源路由的基础路径
	BasePath string

	// 资源路由组上的中间件（全局中间件由服务器注册）
	Middlewares []core.Middleware

	// Health 为 /healthz 提供存储探活；为 nil 时总是健康
	Health func(ctx context.Context) error

	// Gatherer 为 /metrics 提供指标；为 nil 时不挂载 /metrics
	Gatherer prometheus.Gatherer
}

// DefaultRouteConfig 默认路由配置
func DefaultRouteConfig() *RouteConfig {
	return &RouteConfig{
		BasePath: "/api/v1",
	}
}
