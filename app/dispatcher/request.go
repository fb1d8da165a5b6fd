package dispatcher

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// Operation 请求的操作
type Operation string

const (
	OpCreate       Operation = "create"
	OpGet          Operation = "get"
	OpList         Operation = "list"
	OpUpdate       Operation = "update"
	OpUpdateStatus Operation = "update_status"
	OpDelete       Operation = "delete"
	OpAddLines     Operation = "add_lines"
	OpRemoveItem   Operation = "remove_item"
	OpListItems    Operation = "list_items"
	OpGetItem      Operation = "get_item"
	OpState        Operation = "state"
)

// IsWrite 是否为写操作（可重放的幂等响应只针对写操作）
func (op Operation) IsWrite() bool {
	switch op {
	case OpCreate, OpUpdate, OpUpdateStatus, OpDelete, OpAddLines, OpRemoveItem:
		return true
	}
	return false
}

// Entity 请求针对的实体
type Entity string

const (
	EntityMenuItem Entity = "menu_item"
	EntityTable    Entity = "table"
	EntityOrder    Entity = "order"
)

// Request 传输无关的请求
//
// PathID 为路径上的主 ID（菜品、餐桌或订单），SubID 为第二级 ID（菜品 ID）。
type Request struct {
	Operation      Operation
	Entity         Entity
	PathID         int64
	SubID          int64
	Query          url.Values
	Body           json.RawMessage
	IdempotencyKey string
}

func (r Request) String() string {
	if r.Entity == "" {
		return string(r.Operation)
	}
	return fmt.Sprintf("%s %s", r.Operation, r.Entity)
}

// Response 处理结果；Body 为 http.SuccessPayload、http.ErrorPayload 或 nil（204）
type Response struct {
	StatusCode int
	Body       any
	// Replayed 表示响应来自幂等缓存
	Replayed bool
}

// phase 请求处理阶段，用于调试日志
type phase string

const (
	phaseReceived  phase = "received"
	phaseValidated phase = "validated"
	phaseExecuting phase = "executing"
	phaseCompleted phase = "completed"
	phaseFailed    phase = "failed"
)
