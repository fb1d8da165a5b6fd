package errors

import (
	"context"
	"database/sql"
	stdErrors "errors"
)

var wellKnown = []struct {
	target  error
	code    ErrorCode
	message string
}{
	{sql.ErrNoRows, ErrCodeNotFound, "记录未找到"},
	{context.DeadlineExceeded, ErrCodeTimeout, "操作超时"},
	{context.Canceled, ErrCodeServiceUnavailable, "请求已取消"},
}

// Normalize 把标准库的哨兵错误编码为 AppError
//
// 已是 IError 的原样返回；驱动错误（SQLITE_BUSY 等）由 data/db/dialect 分类；未识别的原样返回。
func Normalize(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(IError); ok {
		return err
	}
	for _, k := range wellKnown {
		if stdErrors.Is(err, k.target) {
			return WrapError(err, k.code, k.message)
		}
	}
	return err
}
