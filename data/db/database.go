// Package db 定义存储层共用的数据库契约
//
// 实现见 data/db/basic；写入串行化与事务边界由 data/db/serialized 负责，
// 仓储只拿到 IDatabase（读事务）或 ITransaction（写事务）。
package db

import (
	"context"
	"database/sql"
	"time"
)

// IDatabase 语句执行；连接与事务都实现它
type IDatabase interface {
	Query(ctx context.Context, query string, args ...any) (IRows, error)
	QueryRow(ctx context.Context, query string, args ...any) IRow

	// Select 按 `db` 标签映射到切片，零行得到空切片
	Select(ctx context.Context, dest any, query string, args ...any) error
	// Get 映射单行，零行返回 sql.ErrNoRows
	Get(ctx context.Context, dest any, query string, args ...any) error

	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ITransaction 事务；不支持嵌套
type ITransaction interface {
	IDatabase

	Commit() error
	Rollback() error
}

type IRows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

type IRow interface {
	Scan(dest ...any) error
	Err() error
}

// DBConfig SQLite 连接池配置
type DBConfig struct {
	// DSN 文件路径，可带 ?_pragma=... 参数
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration

	// PingTimeout 打开后连通性检查的时限，默认 3s
	PingTimeout time.Duration
}
