package http

import "time"

// ErrorPayload 通用错误响应
type ErrorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code, message string, details map[string]any) *ErrorPayload {
	return &ErrorPayload{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// SuccessPayload 通用成功响应
type SuccessPayload struct {
	Data any `json:"data"`
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data any) *SuccessPayload {
	return &SuccessPayload{
		Data: data,
	}
}

// WebConfig HTTP 服务基础配置
type WebConfig struct {
	Addr         string        `json:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`

	// MaxBodyBytes 请求体上限，0 表示使用默认值 1MiB
	MaxBodyBytes int64 `json:"max_body_bytes"`
}

// DefaultMaxBodyBytes 默认请求体上限
const DefaultMaxBodyBytes int64 = 1 << 20

// BodyLimit 返回生效的请求体上限
func (c *WebConfig) BodyLimit() int64 {
	if c == nil || c.MaxBodyBytes <= 0 {
		return DefaultMaxBodyBytes
	}
	return c.MaxBodyBytes
}
