// Package sql 在 core.IDatabase 之上提供轻量 SQL 构建器
//
// 表名与列名经过标识符校验并加引号；条件表达式原样拼接，值一律走占位符。
// 构建错误（非法标识符、缺少列或条件）在 Build / Exec 时以 INTERNAL 错误返回。
package sql

import (
	"context"
	"database/sql"

	core "restaurant/data/db"
)

// ISql 构建器入口；db 可以是连接也可以是事务
type ISql interface {
	Select(columns ...string) ISelectBuilder
	InsertInto(table string) IInsertBuilder
	Update(table string) IUpdateBuilder
	DeleteFrom(table string) IDeleteBuilder
}

type ISelectBuilder interface {
	From(table string) ISelectBuilder
	Where(cond string, args ...any) ISelectBuilder
	// WhereIn 追加 col IN (...)；values 为空切片时条件恒假
	WhereIn(col string, values any) ISelectBuilder
	// Or 与上一个条件合并为 (prev OR cond)
	Or(cond string, args ...any) ISelectBuilder
	OrderBy(expr string) ISelectBuilder
	Limit(n int) ISelectBuilder
	Build() (query string, args []any, err error)

	// Select 结果映射到切片（按 `db` 标签）
	Select(ctx context.Context, dest any) error
	// Get 单行映射到结构体，零行返回 sql.ErrNoRows
	Get(ctx context.Context, dest any) error
}

type IInsertBuilder interface {
	Columns(cols ...string) IInsertBuilder
	// Values 追加一行，长度须与 Columns 一致
	Values(vals ...any) IInsertBuilder
	Build() (query string, args []any, err error)
	Exec(ctx context.Context) (sql.Result, error)
}

type IUpdateBuilder interface {
	Set(column string, val any) IUpdateBuilder
	// SetExpr 追加原始 SET 片段，例如 "retry_count = retry_count + 1"
	SetExpr(expr string, args ...any) IUpdateBuilder
	Where(cond string, args ...any) IUpdateBuilder
	Build() (query string, args []any, err error)
	Exec(ctx context.Context) (sql.Result, error)
}

// IDeleteBuilder 没有 WHERE 的删除会被拒绝
type IDeleteBuilder interface {
	Where(cond string, args ...any) IDeleteBuilder
	Build() (query string, args []any, err error)
	Exec(ctx context.Context) (sql.Result, error)
}

type sqlImpl struct {
	db core.IDatabase
}

func New(db core.IDatabase) ISql {
	return &sqlImpl{db: db}
}

func (s *sqlImpl) Select(columns ...string) ISelectBuilder {
	if len(columns) == 0 {
		columns = []string{"*"}
	}
	return &selectBuilder{db: s.db, cols: columns}
}

func (s *sqlImpl) InsertInto(table string) IInsertBuilder {
	return &insertBuilder{db: s.db, table: table}
}

func (s *sqlImpl) Update(table string) IUpdateBuilder {
	return &updateBuilder{db: s.db, table: table}
}

func (s *sqlImpl) DeleteFrom(table string) IDeleteBuilder {
	return &deleteBuilder{db: s.db, table: table}
}

func exec(ctx context.Context, db core.IDatabase, build func() (string, []any, error)) (sql.Result, error) {
	q, args, err := build()
	if err != nil {
		return nil, err
	}
	return db.Exec(ctx, q, args...)
}
