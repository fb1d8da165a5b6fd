package dialect

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"restaurant/errors"
)

// Class 驱动错误分类
type Class int

const (
	ClassNone       Class = iota // 非存储错误或无法识别
	ClassTransient               // 锁竞争，可重试
	ClassFatal                   // 文件/IO/损坏，不可恢复
	ClassUnique                  // 唯一键冲突
	ClassForeignKey              // 外键约束失败
	ClassConstraint              // 其他约束（CHECK / NOT NULL）
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	case ClassUnique:
		return "unique"
	case ClassForeignKey:
		return "foreign_key"
	case ClassConstraint:
		return "constraint"
	default:
		return "none"
	}
}

// Classify 将驱动错误归类
//
// SQLite 优先使用 *sqlite.Error 的扩展错误码，按主错误码（低 8 位）判断；
// 无错误码时退化为消息匹配，覆盖被 fmt.Errorf 包装后丢失类型的情况。
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	var se *sqlite.Error
	if stdErrors.As(err, &se) {
		return classifySQLiteCode(se.Code())
	}

	return classifyMessage(strings.ToLower(err.Error()))
}

func classifySQLiteCode(code int) Class {
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return ClassUnique
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return ClassForeignKey
	}

	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return ClassTransient
	case sqlite3.SQLITE_READONLY, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CORRUPT,
		sqlite3.SQLITE_FULL, sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_PERM:
		return ClassFatal
	case sqlite3.SQLITE_CONSTRAINT:
		return ClassConstraint
	default:
		return ClassNone
	}
}

func classifyMessage(msg string) Class {
	switch {
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "database table is locked"),
		strings.Contains(msg, "sqlite_busy"):
		return ClassTransient
	case strings.Contains(msg, "unique constraint failed"),
		strings.Contains(msg, "duplicate key"):
		return ClassUnique
	case strings.Contains(msg, "foreign key constraint failed"):
		return ClassForeignKey
	case strings.Contains(msg, "constraint failed"):
		return ClassConstraint
	case strings.Contains(msg, "readonly database"),
		strings.Contains(msg, "disk i/o error"),
		strings.Contains(msg, "database disk image is malformed"),
		strings.Contains(msg, "file is not a database"),
		strings.Contains(msg, "unable to open database file"),
		strings.Contains(msg, "database or disk is full"):
		return ClassFatal
	default:
		return ClassNone
	}
}

// IsUniqueViolation 判断错误是否为唯一键/主键冲突
func IsUniqueViolation(err error) bool {
	return Classify(err) == ClassUnique
}

// IsBusy 判断错误是否为锁竞争
func IsBusy(err error) bool {
	return Classify(err) == ClassTransient
}

// ToAppError 将驱动错误转换为带错误码的 AppError
//
// 已编码的错误原样返回；上下文错误交给 errors.Normalize；
// 无法识别的错误归为 FATAL_STORAGE，避免被当作可重试。
func ToAppError(err error, op string) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(errors.IError); ok {
		return err
	}
	if stdErrors.Is(err, context.Canceled) || stdErrors.Is(err, context.DeadlineExceeded) ||
		stdErrors.Is(err, sql.ErrNoRows) {
		return errors.Normalize(err)
	}

	var wrapped errors.IError
	switch Classify(err) {
	case ClassTransient:
		wrapped = errors.WrapError(err, errors.ErrCodeTransientStorage, "storage busy")
	case ClassUnique:
		wrapped = errors.WrapError(err, errors.ErrCodeConflict, "unique constraint violated")
	case ClassForeignKey:
		wrapped = errors.WrapError(err, errors.ErrCodeConflict, "referenced record does not exist")
	case ClassConstraint:
		wrapped = errors.WrapError(err, errors.ErrCodeValidation, "constraint violated")
	default:
		wrapped = errors.WrapError(err, errors.ErrCodeFatalStorage, "storage failure")
	}
	return wrapped.WithContext("operation", op)
}
