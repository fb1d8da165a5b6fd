package errors

import (
	"context"

	"restaurant/logging"
)

// WrapStorageError 为存储层错误补充操作名
//
// 已编码的错误保持原错误码；未编码的归为 DATABASE_ERROR 并记录警告。
func WrapStorageError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := Normalize(err).(IError); ok {
		return appErr.WithContext("operation", operation)
	}

	logging.GetLogger().Warn(ctx, "unclassified storage error",
		logging.String("operation", operation),
		logging.Error(err))
	return WrapError(err, ErrCodeDatabase, "数据库操作失败: "+operation).
		WithContext("operation", operation)
}
