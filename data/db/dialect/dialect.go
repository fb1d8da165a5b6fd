// Package dialect 封装 SQLite（modernc 驱动）的方言细节：标识符引用与驱动错误分类
package dialect

import (
	"regexp"
	"strings"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// ValidIdentifier 是否为可安全拼进 SQL 的表名或列名（允许 table.column）
func ValidIdentifier(name string) bool {
	return identifier.MatchString(name)
}

// QuoteIdentifier 对每一段加双引号；调用方先用 ValidIdentifier 校验
func QuoteIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + p + `"`
	}
	return strings.Join(parts, ".")
}
