package basic

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant/codegen/snowflake"
	"restaurant/errors"
	httpx "restaurant/http"
	"restaurant/logging"
)

// TestHttpServer_MiddlewareOrder 验证全局中间件与路由组中间件的执行顺序。
func TestHttpServer_MiddlewareOrder(t *testing.T) {
	srv := NewHTTPServer(&httpx.WebConfig{})

	order := make([]string, 0)

	// 全局中间件
	srv.Use(func(ctx httpx.IHttpContext, next func() error) error {
		order = append(order, "global-before")
		err := next()
		order = append(order, "global-after")
		return err
	})

	// 路由组中间件
	group := srv.Group("/api")
	group.Use(func(ctx httpx.IHttpContext, next func() error) error {
		order = append(order, "group-before")
		err := next()
		order = append(order, "group-after")
		return err
	})

	// 终结处理器
	group.GET("/test", func(ctx httpx.IHttpContext) error {
		order = append(order, "handler")
		return ctx.JSON(http.StatusOK, map[string]string{"ok": "1"})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	expected := []string{"global-before", "group-before", "handler", "group-after", "global-after"}
	if !reflect.DeepEqual(order, expected) {
		t.Fatalf("unexpected middleware order: got %v, want %v", order, expected)
	}
}

// TestHttpServer_SamePathDifferentMethods 同一路径的多个方法互不覆盖，未注册的方法返回 405。
func TestHttpServer_SamePathDifferentMethods(t *testing.T) {
	srv := NewHTTPServer(nil)
	srv.GET("/items/:id", func(ctx httpx.IHttpContext) error {
		return ctx.String(http.StatusOK, "get "+ctx.GetParam("id"))
	})
	srv.PUT("/items/:id", func(ctx httpx.IHttpContext) error {
		return ctx.String(http.StatusOK, "put "+ctx.GetParam("id"))
	})
	srv.GET("/items/:id/parts/:part", func(ctx httpx.IHttpContext) error {
		return ctx.String(http.StatusOK, ctx.GetParam("id")+"/"+ctx.GetParam("part"))
	})

	tests := []struct {
		method, target string
		status         int
		body           string
	}{
		{http.MethodGet, "/items/42", http.StatusOK, "get 42"},
		{http.MethodPut, "/items/7", http.StatusOK, "put 7"},
		{http.MethodGet, "/items/3/parts/9", http.StatusOK, "3/9"},
		{http.MethodDelete, "/items/7", http.StatusMethodNotAllowed, ""},
		{http.MethodGet, "/nothing", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))
		if rec.Code != tt.status {
			t.Fatalf("%s %s: expected status %d, got %d", tt.method, tt.target, tt.status, rec.Code)
		}
		if tt.body != "" && rec.Body.String() != tt.body {
			t.Fatalf("%s %s: expected body %q, got %q", tt.method, tt.target, tt.body, rec.Body.String())
		}
	}
}

// TestHttpServer_ErrorMapping 处理器返回的错误按错误码写成 JSON 响应。
func TestHttpServer_ErrorMapping(t *testing.T) {
	srv := NewHTTPServer(nil)
	srv.GET("/conflict", func(ctx httpx.IHttpContext) error {
		return errors.NewError(errors.ErrCodeConflict, "table busy").
			WithDetails(map[string]any{"table_id": 3})
	})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conflict", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"CONFLICT"`)
	assert.Contains(t, rec.Body.String(), `"table_id":3`)
}

// TestHttpServer_BodyLimit 超过上限的请求体返回 400。
func TestHttpServer_BodyLimit(t *testing.T) {
	srv := NewHTTPServer(&httpx.WebConfig{MaxBodyBytes: 16})
	srv.POST("/echo", func(ctx httpx.IHttpContext) error {
		var v map[string]any
		if err := ctx.BindJSON(&v); err != nil {
			return err
		}
		return ctx.JSON(http.StatusOK, v)
	})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"a":1}`)))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"a":"0123456789abcdef"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestMiddleware_RequestIDAndRecovery 请求 ID 写回响应头，panic 转为 500。
func TestMiddleware_RequestIDAndRecovery(t *testing.T) {
	gen, err := snowflake.NewGenerator(2)
	require.NoError(t, err)

	srv := NewHTTPServer(nil)
	srv.Use(Recovery(logging.NewNoopLogger()), RequestID(gen), AccessLog(logging.NewNoopLogger()))

	var seen string
	srv.GET("/ok", func(ctx httpx.IHttpContext) error {
		seen = ctx.GetContext().GetCorrelationID()
		return ctx.String(http.StatusOK, ctx.GetContext().GetRequestID())
	})
	srv.GET("/panic", func(ctx httpx.IHttpContext) error {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	id := rec.Header().Get(httpx.HeaderRequestID)
	require.NotEmpty(t, id)
	assert.Equal(t, id, rec.Body.String())
	assert.Equal(t, id, seen)

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(httpx.HeaderRequestID, "client-id")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, "client-id", rec.Header().Get(httpx.HeaderRequestID))

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), string(errors.ErrCodeInternal))
}

// TestHTTPService_StartClose 通过 Manager 使用的适配器启动和关闭真实监听。
func TestHTTPService_StartClose(t *testing.T) {
	srv := NewHTTPServer(nil)
	srv.GET("/healthz", func(ctx httpx.IHttpContext) error {
		return ctx.String(http.StatusOK, "ok")
	})
	svc := NewHTTPService(srv, "127.0.0.1:0", time.Second)
	require.NoError(t, svc.Start(context.Background()))
	require.NotNil(t, svc.Addr())

	resp, err := http.Get("http://" + svc.Addr().String() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	require.NoError(t, svc.Close())
}

// TestHttpServer_NestedGroupsAndMount 子分组继承中间件；Mount 的处理器绕过中间件链。
func TestHttpServer_NestedGroupsAndMount(t *testing.T) {
	srv := NewHTTPServer(nil)

	var trail []string
	tag := func(name string) httpx.Middleware {
		return func(ctx httpx.IHttpContext, next func() error) error {
			trail = append(trail, name)
			return next()
		}
	}

	api := srv.Group("/api").Use(tag("api"))
	v1 := api.Group("/v1")
	v1.Route(http.MethodGet, "/tables/:id", func(ctx httpx.IHttpContext) error {
		return ctx.Data(http.StatusNoContent, "", nil)
	})
	// 注册之后追加的分组中间件同样生效
	v1.Use(tag("v1"))

	srv.Mount("GET /raw", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		trail = append(trail, "raw")
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tables/5", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Type"))
	assert.Equal(t, []string{"api", "v1"}, trail)

	trail = nil
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/raw", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"raw"}, trail)
}

// TestHttpContext_SingleWrite 同一请求只写出一次响应。
func TestHttpContext_SingleWrite(t *testing.T) {
	ctx := newTestContext(http.MethodGet, "/")
	require.NoError(t, ctx.JSON(http.StatusCreated, map[string]int{"id": 1}))
	assert.True(t, ctx.Written())
	assert.Equal(t, http.StatusCreated, ctx.Status())
	assert.Error(t, ctx.String(http.StatusOK, "again"))
}
