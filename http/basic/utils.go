package basic

import (
	"fmt"
	"net/http"
	"strconv"

	"restaurant/errors"
	httpx "restaurant/http"
)

type HttpUtils struct{}

// ParseID 解析路径参数中的正整数 ID
func (u *HttpUtils) ParseID(ctx httpx.IHttpContext, paramName string) (int64, error) {
	idStr := ctx.GetParam(paramName)
	if idStr == "" {
		return 0, errors.NewError(errors.ErrCodeInvalidInput, fmt.Sprintf("parameter %s cannot be empty", paramName))
	}
	return parsePositive(idStr, paramName)
}

// ParseOptionalID 解析可选的查询参数 ID，缺省时返回 0
func (u *HttpUtils) ParseOptionalID(ctx httpx.IHttpContext, queryName string) (int64, error) {
	s := ctx.GetQuery(queryName)
	if s == "" {
		return 0, nil
	}
	return parsePositive(s, queryName)
}

// ParseOptionalBool 解析可选的布尔查询参数
func (u *HttpUtils) ParseOptionalBool(ctx httpx.IHttpContext, queryName string) (*bool, error) {
	s := ctx.GetQuery(queryName)
	if s == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, fmt.Sprintf("parameter %s must be a boolean", queryName))
	}
	return &b, nil
}

func parsePositive(s, name string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.WrapError(err, errors.ErrCodeInvalidInput, fmt.Sprintf("parameter %s must be a valid integer", name))
	}
	if id <= 0 {
		return 0, errors.NewError(errors.ErrCodeInvalidInput, fmt.Sprintf("parameter %s must be greater than 0", name))
	}
	return id, nil
}

// StatusCode 将错误码映射为 HTTP 状态码
func StatusCode(err error) int {
	switch errors.GetErrorCode(errors.Normalize(err)) {
	case errors.ErrCodeInvalidInput, errors.ErrCodeValidation:
		return http.StatusBadRequest
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeTransientStorage, errors.ErrCodeServiceUnavailable, errors.ErrCodeTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorPayload 由错误构造响应体；非 AppError 只暴露通用消息
func ErrorPayload(err error) *httpx.ErrorPayload {
	err = errors.Normalize(err)
	if appErr, ok := err.(errors.IError); ok {
		var details map[string]any
		if d := appErr.Details(); len(d) > 0 {
			details = d
		}
		return httpx.NewErrorResponse(string(appErr.Code()), appErr.Message(), details)
	}
	return httpx.NewErrorResponse(string(errors.ErrCodeInternal), "internal server error", nil)
}

// WriteErrorResponse 写出错误响应；已写出响应时忽略
func (u *HttpUtils) WriteErrorResponse(ctx httpx.IHttpContext, err error) error {
	if ctx.Written() {
		return nil
	}

	status := StatusCode(err)
	payload := ErrorPayload(err)
	if jerr := ctx.JSON(status, payload); jerr != nil {
		_ = ctx.String(status, fmt.Sprintf("%s: %s", payload.Code, payload.Message))
	}
	return nil
}

// WriteSuccessResponse 以 {"data": ...} 写出成功响应
func (u *HttpUtils) WriteSuccessResponse(ctx httpx.IHttpContext, status int, data any) error {
	return ctx.JSON(status, httpx.NewSuccessResponse(data))
}
