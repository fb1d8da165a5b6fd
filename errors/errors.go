// Package errors 带错误码的应用错误，贯穿存储、服务与 HTTP 层
//
// 错误码决定重试策略与 HTTP 状态：TRANSIENT_STORAGE 可重试，FATAL_STORAGE 不可重试，
// VALIDATION / INVALID_INPUT 对应 400，NOT_FOUND 对应 404，CONFLICT 对应 409。
package errors

import (
	stdErrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
)

type ErrorCode string

const (
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeValidation         ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// ErrCodeTransientStorage 锁竞争、SQLITE_BUSY 等，重试后可能成功
	ErrCodeTransientStorage ErrorCode = "TRANSIENT_STORAGE"
	// ErrCodeFatalStorage 文件不可写、损坏、磁盘满等
	ErrCodeFatalStorage ErrorCode = "FATAL_STORAGE"
	ErrCodeDatabase     ErrorCode = "DATABASE_ERROR"
	// ErrCodeQueue 事件传输不可用
	ErrCodeQueue ErrorCode = "QUEUE_ERROR"
)

// IError 带错误码的错误；WithDetails / WithContext 返回副本
type IError interface {
	error
	Code() ErrorCode
	Message() string
	Cause() error
	Details() map[string]any
	// Stack 创建位置的调用栈，每帧一行
	Stack() string
	WithDetails(details map[string]any) IError
	WithContext(key string, value any) IError
}

// AppError IError 的唯一实现
type AppError struct {
	code    ErrorCode
	message string
	cause   error
	details map[string]any
	pcs     []uintptr
}

func newAppError(code ErrorCode, message string, cause error) *AppError {
	var pcs [24]uintptr
	n := runtime.Callers(3, pcs[:])
	return &AppError{code: code, message: message, cause: cause, pcs: pcs[:n]}
}

func NewError(code ErrorCode, message string) IError {
	return newAppError(code, message, nil)
}

func NewErrorf(code ErrorCode, format string, args ...any) IError {
	return newAppError(code, fmt.Sprintf(format, args...), nil)
}

// WrapError 以 code 重新编码 err；err 为 nil 时返回 nil
func WrapError(err error, code ErrorCode, message string) IError {
	if err == nil {
		return nil
	}
	return newAppError(code, message, err)
}

func NewValidationError(msg string) error {
	return NewError(ErrCodeValidation, msg)
}

// NewNotFoundError 附带实体类型与 ID
func NewNotFoundError(entity string, id int64) error {
	return NewErrorf(ErrCodeNotFound, "%s %d not found", entity, id).
		WithDetails(map[string]any{"entity": entity, "id": id})
}

func NewConflictError(msg string) error {
	return NewError(ErrCodeConflict, msg)
}

func (e *AppError) Error() string {
	if e.cause == nil {
		return "[" + string(e.code) + "] " + e.message
	}
	return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
}

func (e *AppError) Code() ErrorCode { return e.code }
func (e *AppError) Message() string { return e.message }
func (e *AppError) Cause() error    { return e.cause }
func (e *AppError) Unwrap() error   { return e.cause }

// Details 返回只读视图；修改请用 WithDetails
func (e *AppError) Details() map[string]any {
	if e.details == nil {
		return map[string]any{}
	}
	return e.details
}

func (e *AppError) Stack() string {
	var sb strings.Builder
	frames := runtime.CallersFrames(e.pcs)
	for {
		f, more := frames.Next()
		fmt.Fprintf(&sb, "%s:%d %s\n", f.File, f.Line, f.Function)
		if !more {
			break
		}
	}
	return sb.String()
}

// Is 同错误码的 AppError 视为相等，其余交给 cause
func (e *AppError) Is(target error) bool {
	if t, ok := target.(*AppError); ok {
		return e.code == t.code
	}
	return false
}

func (e *AppError) WithDetails(details map[string]any) IError {
	cp := *e
	cp.details = maps.Clone(e.details)
	if cp.details == nil {
		cp.details = make(map[string]any, len(details))
	}
	maps.Copy(cp.details, details)
	return &cp
}

func (e *AppError) WithContext(key string, value any) IError {
	return e.WithDetails(map[string]any{key: value})
}

// 预定义错误，用于 errors.Is 按错误码比较
var (
	ErrInternal         = NewError(ErrCodeInternal, "内部服务器错误")
	ErrInvalidInput     = NewError(ErrCodeInvalidInput, "无效的输入参数")
	ErrNotFound         = NewError(ErrCodeNotFound, "资源未找到")
	ErrConflict         = NewError(ErrCodeConflict, "资源冲突")
	ErrTimeout          = NewError(ErrCodeTimeout, "操作超时")
	ErrValidation       = NewError(ErrCodeValidation, "数据验证失败")
	ErrTransientStorage = NewError(ErrCodeTransientStorage, "存储暂时不可用")
	ErrFatalStorage     = NewError(ErrCodeFatalStorage, "存储不可用")
)

// GetErrorCode 取最外层 AppError 的错误码；非 AppError 视为 INTERNAL_ERROR
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.code
	}
	return ErrCodeInternal
}

// IsErrorCode 只看最外层 AppError：外层重新编码（例如 Wrap 为 TRANSIENT）时以外层为准
func IsErrorCode(err error, codes ...ErrorCode) bool {
	var appErr *AppError
	if err == nil || !stdErrors.As(err, &appErr) {
		return false
	}
	for _, c := range codes {
		if appErr.code == c {
			return true
		}
	}
	return false
}

func IsNotFound(err error) bool { return IsErrorCode(err, ErrCodeNotFound) }
func IsConflict(err error) bool { return IsErrorCode(err, ErrCodeConflict) }

// IsValidation 包括 INVALID_INPUT
func IsValidation(err error) bool {
	return IsErrorCode(err, ErrCodeValidation, ErrCodeInvalidInput)
}

func IsTransient(err error) bool { return IsErrorCode(err, ErrCodeTransientStorage) }
func IsFatal(err error) bool     { return IsErrorCode(err, ErrCodeFatalStorage) }
