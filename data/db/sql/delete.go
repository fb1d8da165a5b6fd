package sql

import (
	"context"
	"database/sql"
	"strings"

	core "restaurant/data/db"
)

type deleteBuilder struct {
	db core.IDatabase
	conditions

	table string
}

func (b *deleteBuilder) Where(cond string, args ...any) IDeleteBuilder {
	b.where(cond, args...)
	return b
}

func (b *deleteBuilder) Build() (string, []any, error) {
	table := quoteTable(&b.conditions, b.table)
	if len(b.exprs) == 0 {
		b.fail("delete from %s without WHERE", b.table)
	}
	if b.err != nil {
		return "", nil, b.err
	}

	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(table)
	args := b.writeTo(&sb)
	return sb.String(), args, nil
}

func (b *deleteBuilder) Exec(ctx context.Context) (sql.Result, error) {
	return exec(ctx, b.db, b.Build)
}
