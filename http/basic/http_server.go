// Package basic 基于标准库 net/http 的 HTTP 服务实现
package basic

import (
	"context"
	stdErrors "errors"
	"net"
	"net/http"
	"strings"
	"sync"

	httpx "restaurant/http"
)

var (
	_ httpx.IHttpServer = (*HttpServer)(nil)
	_ httpx.IRouter     = (*RouteGroup)(nil)
)

// HttpServer 把路由注册到 Go 1.22 的 ServeMux
//
// 路径里的 :name 转为 {name}；方法不匹配时由 ServeMux 返回 405。
// 路由在第一次处理请求时一次性注册，此后再添加的路由不生效。
type HttpServer struct {
	mux         *http.ServeMux
	config      *httpx.WebConfig
	routes      []route
	middlewares []httpx.Middleware
	register    sync.Once

	mu      sync.RWMutex
	server  *http.Server
	stopped bool
}

type route struct {
	method  string
	pattern string
	params  []string
	handler httpx.HttpHandler
}

// NewHTTPServer 创建服务器；config 为 nil 时使用零值配置
func NewHTTPServer(config *httpx.WebConfig) *HttpServer {
	if config == nil {
		config = &httpx.WebConfig{}
	}
	return &HttpServer{mux: http.NewServeMux(), config: config}
}

func (s *HttpServer) Route(method, path string, handler httpx.HttpHandler) httpx.IRouter {
	pattern := convertPathPattern(path)
	s.mu.Lock()
	s.routes = append(s.routes, route{method: method, pattern: pattern, params: pathParams(pattern), handler: handler})
	s.mu.Unlock()
	return s
}

func (s *HttpServer) GET(path string, h httpx.HttpHandler) httpx.IRouter {
	return s.Route(http.MethodGet, path, h)
}
func (s *HttpServer) POST(path string, h httpx.HttpHandler) httpx.IRouter {
	return s.Route(http.MethodPost, path, h)
}
func (s *HttpServer) PUT(path string, h httpx.HttpHandler) httpx.IRouter {
	return s.Route(http.MethodPut, path, h)
}
func (s *HttpServer) PATCH(path string, h httpx.HttpHandler) httpx.IRouter {
	return s.Route(http.MethodPatch, path, h)
}
func (s *HttpServer) DELETE(path string, h httpx.HttpHandler) httpx.IRouter {
	return s.Route(http.MethodDelete, path, h)
}

func (s *HttpServer) Group(prefix string) httpx.IRouter {
	return &RouteGroup{prefix: prefix, server: s}
}

// Use 追加全局中间件，作用于所有路由（包括已注册的）
func (s *HttpServer) Use(middleware ...httpx.Middleware) httpx.IRouter {
	s.mu.Lock()
	s.middlewares = append(s.middlewares, middleware...)
	s.mu.Unlock()
	return s
}

func (s *HttpServer) Mount(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

func (s *HttpServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.register.Do(s.registerRoutes)
	s.mux.ServeHTTP(w, req)
}

// Serve 在 ln 上提供服务直到 Stop；正常关闭返回 nil
func (s *HttpServer) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ln.Close()
	}
	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	srv := s.server
	s.mu.Unlock()

	if err := srv.Serve(ln); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 优雅关闭；先于 Serve 调用时，之后的 Serve 直接返回
func (s *HttpServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *HttpServer) registerRoutes() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.routes {
		s.mux.HandleFunc(r.method+" "+r.pattern, s.serveRoute(r))
	}
}

func (s *HttpServer) serveRoute(r route) http.HandlerFunc {
	limit := s.config.BodyLimit()
	return func(w http.ResponseWriter, req *http.Request) {
		ctx := NewBaseHttpContext(w, req)
		ctx.bodyLimit = limit
		for _, name := range r.params {
			ctx.SetParam(name, req.PathValue(name))
		}

		s.mu.RLock()
		chain := s.middlewares
		s.mu.RUnlock()

		if err := runChain(ctx, chain, r.handler); err != nil {
			_ = (&HttpUtils{}).WriteErrorResponse(ctx, err)
		}
	}
}

func runChain(ctx httpx.IHttpContext, chain []httpx.Middleware, handler httpx.HttpHandler) error {
	if len(chain) == 0 {
		return handler(ctx)
	}
	return chain[0](ctx, func() error { return runChain(ctx, chain[1:], handler) })
}

// convertPathPattern 将 :id 转为 {id}
func convertPathPattern(pattern string) string {
	parts := strings.Split(pattern, "/")
	for i, p := range parts {
		if strings.HasPrefix(p, ":") {
			parts[i] = "{" + p[1:] + "}"
		}
	}
	return strings.Join(parts, "/")
}

func pathParams(pattern string) []string {
	var names []string
	for _, part := range strings.Split(pattern, "/") {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			names = append(names, strings.TrimSuffix(part[1:len(part)-1], "..."))
		}
	}
	return names
}

// RouteGroup 带前缀与分组中间件的路由集合
type RouteGroup struct {
	prefix      string
	server      *HttpServer
	parent      *RouteGroup
	mu          sync.RWMutex
	middlewares []httpx.Middleware
}

func (g *RouteGroup) Route(method, path string, h httpx.HttpHandler) httpx.IRouter {
	g.server.Route(method, g.prefix+path, func(ctx httpx.IHttpContext) error {
		return runChain(ctx, g.chain(), h)
	})
	return g
}

func (g *RouteGroup) GET(path string, h httpx.HttpHandler) httpx.IRouter {
	return g.Route(http.MethodGet, path, h)
}
func (g *RouteGroup) POST(path string, h httpx.HttpHandler) httpx.IRouter {
	return g.Route(http.MethodPost, path, h)
}
func (g *RouteGroup) PUT(path string, h httpx.HttpHandler) httpx.IRouter {
	return g.Route(http.MethodPut, path, h)
}
func (g *RouteGroup) PATCH(path string, h httpx.HttpHandler) httpx.IRouter {
	return g.Route(http.MethodPatch, path, h)
}
func (g *RouteGroup) DELETE(path string, h httpx.HttpHandler) httpx.IRouter {
	return g.Route(http.MethodDelete, path, h)
}

// Group 子分组继承父分组的中间件
func (g *RouteGroup) Group(prefix string) httpx.IRouter {
	return &RouteGroup{prefix: g.prefix + prefix, server: g.server, parent: g}
}

func (g *RouteGroup) Use(mw ...httpx.Middleware) httpx.IRouter {
	g.mu.Lock()
	g.middlewares = append(g.middlewares, mw...)
	g.mu.Unlock()
	return g
}

// chain 在请求时展开，注册路由之后 Use 的中间件同样生效
func (g *RouteGroup) chain() []httpx.Middleware {
	g.mu.RLock()
	own := g.middlewares
	g.mu.RUnlock()
	if g.parent == nil {
		return own
	}
	parent := g.parent.chain()
	out := make([]httpx.Middleware, 0, len(parent)+len(own))
	out = append(out, parent...)
	return append(out, own...)
}
