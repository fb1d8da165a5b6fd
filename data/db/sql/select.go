package sql

import (
	"context"
	"strconv"
	"strings"

	core "restaurant/data/db"
)

// selectBuilder 的列与 FROM 原样输出，允许别名与表达式
type selectBuilder struct {
	db core.IDatabase
	conditions

	cols    []string
	table   string
	orderBy string
	limit   int
}

func (b *selectBuilder) From(table string) ISelectBuilder {
	b.table = table
	return b
}

func (b *selectBuilder) Where(cond string, args ...any) ISelectBuilder {
	b.where(cond, args...)
	return b
}

func (b *selectBuilder) WhereIn(col string, values any) ISelectBuilder {
	b.whereIn(col, values)
	return b
}

func (b *selectBuilder) Or(cond string, args ...any) ISelectBuilder {
	b.or(cond, args...)
	return b
}

func (b *selectBuilder) OrderBy(expr string) ISelectBuilder {
	b.orderBy = expr
	return b
}

func (b *selectBuilder) Limit(n int) ISelectBuilder {
	b.limit = n
	return b
}

func (b *selectBuilder) Build() (string, []any, error) {
	if b.table == "" {
		b.fail("select without FROM")
	}
	if b.err != nil {
		return "", nil, b.err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(b.cols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(b.table)
	args := b.writeTo(&sb)
	if b.orderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(b.orderBy)
	}
	if b.limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(b.limit))
	}
	return sb.String(), args, nil
}

func (b *selectBuilder) Select(ctx context.Context, dest any) error {
	q, args, err := b.Build()
	if err != nil {
		return err
	}
	return b.db.Select(ctx, dest, q, args...)
}

func (b *selectBuilder) Get(ctx context.Context, dest any) error {
	q, args, err := b.Build()
	if err != nil {
		return err
	}
	return b.db.Get(ctx, dest, q, args...)
}
