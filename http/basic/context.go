package basic

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"

	"restaurant/errors"
	httpx "restaurant/http"
)

// HttpContext httpx.IHttpContext 的 net/http 实现
type HttpContext struct {
	request *http.Request
	writer  http.ResponseWriter
	params  map[string]string
	reqCtx  httpx.IRequestContext

	status  int
	written bool

	bodyLimit int64
	body      []byte
	bodyErr   error
	bodyRead  bool
}

// NewBaseHttpContext 包装一次请求；请求体上限取默认值
func NewBaseHttpContext(w http.ResponseWriter, r *http.Request) *HttpContext {
	return &HttpContext{
		request:   r,
		writer:    w,
		params:    make(map[string]string),
		reqCtx:    NewRequestContext(r.Context()),
		status:    http.StatusOK,
		bodyLimit: httpx.DefaultMaxBodyBytes,
	}
}

func (c *HttpContext) GetMethod() string           { return c.request.Method }
func (c *HttpContext) GetPath() string             { return c.request.URL.Path }
func (c *HttpContext) GetHeader(key string) string { return c.request.Header.Get(key) }
func (c *HttpContext) GetParam(key string) string  { return c.params[key] }
func (c *HttpContext) GetQuery(key string) string  { return c.request.URL.Query().Get(key) }
func (c *HttpContext) GetQueryParams() url.Values  { return c.request.URL.Query() }
func (c *HttpContext) GetRequest() *http.Request   { return c.request }
func (c *HttpContext) SetParam(key, value string)  { c.params[key] = value }

// ClientIP 去掉端口的远端地址
func (c *HttpContext) ClientIP() string {
	host, _, err := net.SplitHostPort(c.request.RemoteAddr)
	if err != nil {
		return c.request.RemoteAddr
	}
	return host
}

// GetBody 最多读取 bodyLimit 字节；超限返回 INVALID_INPUT
func (c *HttpContext) GetBody() ([]byte, error) {
	if c.bodyRead {
		return c.body, c.bodyErr
	}
	c.bodyRead = true
	if c.request.Body == nil {
		return nil, nil
	}
	defer c.request.Body.Close()

	body, err := io.ReadAll(io.LimitReader(c.request.Body, c.bodyLimit+1))
	switch {
	case err != nil:
		c.bodyErr = errors.WrapError(err, errors.ErrCodeInvalidInput, "failed to read request body")
	case int64(len(body)) > c.bodyLimit:
		c.bodyErr = errors.NewErrorf(errors.ErrCodeInvalidInput, "request body exceeds %d bytes", c.bodyLimit).
			WithDetails(map[string]any{"limit": c.bodyLimit})
	default:
		c.body = body
	}
	return c.body, c.bodyErr
}

func (c *HttpContext) BindJSON(obj any) error {
	body, err := c.GetBody()
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return errors.NewError(errors.ErrCodeInvalidInput, "request body is empty")
	}
	if err := json.Unmarshal(body, obj); err != nil {
		return errors.WrapError(err, errors.ErrCodeInvalidInput, "failed to parse JSON")
	}
	return nil
}

func (c *HttpContext) SetHeader(key, value string) { c.writer.Header().Set(key, value) }

func (c *HttpContext) JSON(code int, obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeInternal, "failed to serialize JSON")
	}
	return c.Data(code, "application/json", data)
}

func (c *HttpContext) String(code int, text string) error {
	return c.Data(code, "text/plain; charset=utf-8", []byte(text))
}

// Data 写出响应；contentType 为空时不设置 Content-Type，data 为空时只写状态码
func (c *HttpContext) Data(code int, contentType string, data []byte) error {
	if c.written {
		return errors.NewError(errors.ErrCodeInternal, "response already written")
	}
	if contentType != "" {
		c.SetHeader("Content-Type", contentType)
	}
	c.status = code
	c.written = true
	c.writer.WriteHeader(code)
	if len(data) == 0 {
		return nil
	}
	_, err := c.writer.Write(data)
	return err
}

func (c *HttpContext) Status() int   { return c.status }
func (c *HttpContext) Written() bool { return c.written }

func (c *HttpContext) GetContext() httpx.IRequestContext    { return c.reqCtx }
func (c *HttpContext) SetContext(ctx httpx.IRequestContext) { c.reqCtx = ctx }
