package http

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant/codegen/snowflake"
	"restaurant/messaging"
)

// TestWithCorrelationID 测试设置 correlation_id
func TestWithCorrelationID(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "req-123")

	assert.Equal(t, "req-123", GetCorrelationID(ctx))
	// outbox 通过 messaging 读取同一个值
	assert.Equal(t, "req-123", messaging.CorrelationID(ctx))
}

// TestGetCorrelationID_NotExists 测试获取不存在的 correlation_id
func TestGetCorrelationID_NotExists(t *testing.T) {
	assert.Empty(t, GetCorrelationID(context.Background()))
	//nolint:staticcheck // 显式验证 nil context
	assert.Empty(t, GetCorrelationID(nil))
}

// TestResolveRequestID 测试请求 ID 的选取与生成
func TestResolveRequestID(t *testing.T) {
	gen, err := snowflake.NewGenerator(1)
	require.NoError(t, err)

	assert.Equal(t, "client-42", ResolveRequestID("client-42", gen))

	generated := ResolveRequestID("", gen)
	require.NotEmpty(t, generated)
	id, err := snowflake.Parse(generated)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id.Node())

	// 含空白或过长的值不被采用
	assert.NotEqual(t, "bad id", ResolveRequestID("bad id", gen))
	long := strings.Repeat("x", maxRequestIDLen+1)
	assert.NotEqual(t, long, ResolveRequestID(long, gen))

	assert.Empty(t, ResolveRequestID("", nil))
}
