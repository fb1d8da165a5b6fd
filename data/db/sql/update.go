package sql

import (
	"context"
	"database/sql"
	"strings"

	core "restaurant/data/db"
	"restaurant/data/db/dialect"
)

// updateBuilder 的 SET 片段按调用顺序输出
type updateBuilder struct {
	db core.IDatabase
	conditions

	table   string
	sets    []string
	setArgs []any
}

func (b *updateBuilder) Set(col string, val any) IUpdateBuilder {
	if !dialect.ValidIdentifier(col) {
		b.fail("invalid column %q", col)
		return b
	}
	b.sets = append(b.sets, dialect.QuoteIdentifier(col)+" = ?")
	b.setArgs = append(b.setArgs, val)
	return b
}

func (b *updateBuilder) SetExpr(expr string, args ...any) IUpdateBuilder {
	if expr != "" {
		b.sets = append(b.sets, expr)
		b.setArgs = append(b.setArgs, args...)
	}
	return b
}

func (b *updateBuilder) Where(cond string, args ...any) IUpdateBuilder {
	b.where(cond, args...)
	return b
}

func (b *updateBuilder) Build() (string, []any, error) {
	table := quoteTable(&b.conditions, b.table)
	if len(b.sets) == 0 {
		b.fail("update %s without SET", b.table)
	}
	if b.err != nil {
		return "", nil, b.err
	}

	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(table)
	sb.WriteString(" SET ")
	sb.WriteString(strings.Join(b.sets, ", "))
	args := append([]any(nil), b.setArgs...)
	args = append(args, b.writeTo(&sb)...)
	return sb.String(), args, nil
}

func (b *updateBuilder) Exec(ctx context.Context) (sql.Result, error) {
	return exec(ctx, b.db, b.Build)
}
