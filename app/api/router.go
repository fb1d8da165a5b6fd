package api

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"restaurant/app/dispatcher"
	core "restaurant/http"
	"restaurant/http/basic"
)

// HeaderReplayed 幂等重放的响应带此头
const HeaderReplayed = "Idempotent-Replayed"

// binding 一条路由到调度操作的绑定；id 与 sub 为路径参数名
type binding struct {
	method string
	path   string
	op     dispatcher.Operation
	entity dispatcher.Entity
	id     string
	sub    string
}

var bindings = []binding{
	{http.MethodPost, "/menu-items", dispatcher.OpCreate, dispatcher.EntityMenuItem, "", ""},
	{http.MethodGet, "/menu-items", dispatcher.OpList, dispatcher.EntityMenuItem, "", ""},
	{http.MethodGet, "/menu-items/:id", dispatcher.OpGet, dispatcher.EntityMenuItem, "id", ""},
	{http.MethodPut, "/menu-items/:id", dispatcher.OpUpdate, dispatcher.EntityMenuItem, "id", ""},
	{http.MethodPatch, "/menu-items/:id/availability", dispatcher.OpUpdateStatus, dispatcher.EntityMenuItem, "id", ""},
	{http.MethodDelete, "/menu-items/:id", dispatcher.OpDelete, dispatcher.EntityMenuItem, "id", ""},

	{http.MethodPost, "/tables", dispatcher.OpCreate, dispatcher.EntityTable, "", ""},
	{http.MethodGet, "/tables", dispatcher.OpList, dispatcher.EntityTable, "", ""},
	{http.MethodGet, "/tables/:id", dispatcher.OpGet, dispatcher.EntityTable, "id", ""},
	{http.MethodPatch, "/tables/:id/status", dispatcher.OpUpdateStatus, dispatcher.EntityTable, "id", ""},
	{http.MethodGet, "/tables/:id/items", dispatcher.OpListItems, dispatcher.EntityTable, "id", ""},
	{http.MethodGet, "/tables/:id/items/:menu_item_id", dispatcher.OpGetItem, dispatcher.EntityTable, "id", "menu_item_id"},

	{http.MethodPost, "/orders", dispatcher.OpCreate, dispatcher.EntityOrder, "", ""},
	{http.MethodGet, "/orders", dispatcher.OpList, dispatcher.EntityOrder, "", ""},
	{http.MethodGet, "/orders/:id", dispatcher.OpGet, dispatcher.EntityOrder, "id", ""},
	{http.MethodPatch, "/orders/:id/status", dispatcher.OpUpdateStatus, dispatcher.EntityOrder, "id", ""},
	{http.MethodPost, "/orders/:id/lines", dispatcher.OpAddLines, dispatcher.EntityOrder, "id", ""},
	{http.MethodDelete, "/orders/:id/items/:menu_item_id", dispatcher.OpRemoveItem, dispatcher.EntityOrder, "id", "menu_item_id"},

	{http.MethodGet, "/state", dispatcher.OpState, "", "", ""},
}

// Router 餐厅 REST 路由
type Router struct {
	config     *RouteConfig
	dispatcher *dispatcher.Dispatcher
	utils      *basic.HttpUtils
}

// NewRouter 创建路由
func NewRouter(d *dispatcher.Dispatcher, config *RouteConfig) *Router {
	if config == nil {
		config = DefaultRouteConfig()
	}
	return &Router{config: config, dispatcher: d, utils: &basic.HttpUtils{}}
}

// Register 注册资源路由、/healthz 与 /metrics
func (r *Router) Register(server core.IHttpServer) error {
	if r.dispatcher == nil {
		return fmt.Errorf("dispatcher cannot be nil")
	}

	group := server.Group(r.config.BasePath)
	if len(r.config.Middlewares) > 0 {
		group.Use(r.config.Middlewares...)
	}
	for _, b := range bindings {
		group.Route(b.method, b.path, r.handle(b))
	}

	server.GET("/healthz", r.health)
	if r.config.Gatherer != nil {
		server.Mount("GET /metrics", promhttp.HandlerFor(r.config.Gatherer, promhttp.HandlerOpts{}))
	}
	return nil
}

func (r *Router) handle(b binding) core.HttpHandler {
	return func(c core.IHttpContext) error {
		req := dispatcher.Request{
			Operation:      b.op,
			Entity:         b.entity,
			Query:          c.GetQueryParams(),
			IdempotencyKey: c.GetHeader(core.HeaderIdempotencyKey),
		}
		var err error
		if b.id != "" {
			if req.PathID, err = r.utils.ParseID(c, b.id); err != nil {
				return err
			}
		}
		if b.sub != "" {
			if req.SubID, err = r.utils.ParseID(c, b.sub); err != nil {
				return err
			}
		}
		if b.method == http.MethodPost || b.method == http.MethodPut || b.method == http.MethodPatch {
			if req.Body, err = c.GetBody(); err != nil {
				return err
			}
		}

		resp := r.dispatcher.Dispatch(c.GetContext(), req)
		if resp.Replayed {
			c.SetHeader(HeaderReplayed, "true")
		}
		if resp.Body == nil {
			return c.Data(resp.StatusCode, "", nil)
		}
		return c.JSON(resp.StatusCode, resp.Body)
	}
}

func (r *Router) health(c core.IHttpContext) error {
	if r.config.Health != nil {
		if err := r.config.Health(c.GetContext()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
