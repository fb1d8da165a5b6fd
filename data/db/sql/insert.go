package sql

import (
	"context"
	"database/sql"
	"strings"

	core "restaurant/data/db"
	"restaurant/data/db/dialect"
)

type insertBuilder struct {
	db core.IDatabase
	conditions

	table   string
	columns []string
	rows    [][]any
}

func (b *insertBuilder) Columns(cols ...string) IInsertBuilder {
	b.columns = cols
	return b
}

func (b *insertBuilder) Values(vals ...any) IInsertBuilder {
	b.rows = append(b.rows, vals)
	return b
}

func (b *insertBuilder) Build() (string, []any, error) {
	table := quoteTable(&b.conditions, b.table)
	switch {
	case len(b.columns) == 0:
		b.fail("insert into %s without columns", b.table)
	case len(b.rows) == 0:
		b.fail("insert into %s without values", b.table)
	}
	cols := make([]string, len(b.columns))
	for i, col := range b.columns {
		if !dialect.ValidIdentifier(col) {
			b.fail("invalid column %q", col)
		}
		cols[i] = dialect.QuoteIdentifier(col)
	}
	for _, row := range b.rows {
		if len(row) != len(b.columns) {
			b.fail("insert into %s: %d values for %d columns", b.table, len(row), len(b.columns))
		}
	}
	if b.err != nil {
		return "", nil, b.err
	}

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(b.rows)*len(cols))
	for i, row := range b.rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(placeholders)
		args = append(args, row...)
	}
	return sb.String(), args, nil
}

func (b *insertBuilder) Exec(ctx context.Context) (sql.Result, error) {
	return exec(ctx, b.db, b.Build)
}
