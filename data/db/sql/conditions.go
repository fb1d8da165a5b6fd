package sql

import (
	"reflect"
	"strings"

	"github.com/jmoiron/sqlx"

	"restaurant/data/db/dialect"
	"restaurant/errors"
)

// conditions WHERE 子句及其参数；记录构建过程中遇到的第一个错误
type conditions struct {
	exprs []string
	args  []any
	err   error
}

func (c *conditions) fail(format string, args ...any) {
	if c.err == nil {
		c.err = errors.NewErrorf(errors.ErrCodeInternal, "sql builder: "+format, args...)
	}
}

func (c *conditions) where(cond string, args ...any) {
	if cond == "" {
		return
	}
	c.exprs = append(c.exprs, cond)
	c.args = append(c.args, args...)
}

func (c *conditions) or(cond string, args ...any) {
	if cond == "" {
		return
	}
	if len(c.exprs) == 0 {
		c.where(cond, args...)
		return
	}
	last := len(c.exprs) - 1
	c.exprs[last] = "(" + c.exprs[last] + " OR " + cond + ")"
	c.args = append(c.args, args...)
}

func (c *conditions) whereIn(col string, values any) {
	if !dialect.ValidIdentifier(col) {
		c.fail("invalid column %q", col)
		return
	}
	if v := reflect.ValueOf(values); v.Kind() == reflect.Slice && v.Len() == 0 {
		c.where("1 = 0")
		return
	}
	cond, args, err := sqlx.In(col+" IN (?)", values)
	if err != nil {
		c.fail("%v", err)
		return
	}
	c.where(cond, args...)
}

// writeTo 追加 " WHERE ..." 并返回参数副本
func (c *conditions) writeTo(sb *strings.Builder) []any {
	if len(c.exprs) == 0 {
		return nil
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(strings.Join(c.exprs, " AND "))
	return append([]any(nil), c.args...)
}

func quoteTable(c *conditions, table string) string {
	if !dialect.ValidIdentifier(table) {
		c.fail("invalid table %q", table)
		return ""
	}
	return dialect.QuoteIdentifier(table)
}
