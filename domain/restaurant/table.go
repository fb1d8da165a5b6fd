package restaurant

import (
	"fmt"
	"strings"
	"time"

	"restaurant/errors"
	"restaurant/validation"
)

// TableStatus 餐桌状态
type TableStatus string

const (
	TableFree     TableStatus = "free"
	TableOccupied TableStatus = "occupied"
	TableReserved TableStatus = "reserved"
)

var tableStatuses = []string{string(TableFree), string(TableOccupied), string(TableReserved)}

// ParseTableStatus 解析餐桌状态
func ParseTableStatus(s string) (TableStatus, error) {
	if err := validation.ValidateEnum(s, "status", tableStatuses); err != nil {
		return "", err
	}
	return TableStatus(s), nil
}

// CanSetManually 判断能否通过显式更新从 from 切换到 to
//
// occupied 只能由下单进入、由订单结束离开，不接受手工切换。
func (s TableStatus) CanSetManually(to TableStatus) bool {
	switch {
	case s == to:
		return false
	case s == TableFree && to == TableReserved:
		return true
	case s == TableReserved && to == TableFree:
		return true
	}
	return false
}

// AcceptsOrder 空闲或已预订的餐桌可以开单
func (s TableStatus) AcceptsOrder() bool {
	return s == TableFree || s == TableReserved
}

// Table 餐桌
type Table struct {
	ID        int64       `db:"id" json:"id"`
	Code      string      `db:"code" json:"code"`
	Capacity  int         `db:"capacity" json:"capacity"`
	Status    TableStatus `db:"status" json:"status"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}

func (t *Table) GetID() int64 { return t.ID }

// TableInput 创建餐桌的输入
type TableInput struct {
	Code     string `json:"code"`
	Capacity int    `json:"capacity"`
}

func (in *TableInput) Normalize() {
	in.Code = strings.TrimSpace(in.Code)
}

func (in *TableInput) Validate() error {
	return validation.First(
		validation.ValidateRequired(in.Code, "code"),
		validation.ValidateStringLength(in.Code, "code", 1, MaxTableCodeLength),
		validation.ValidateIntRange(in.Capacity, "capacity", 1, MaxTableCapacity),
	)
}

// TableFilter 餐桌列表过滤条件
type TableFilter struct {
	Status TableStatus
}

func (f TableFilter) Validate() error {
	if f.Status == "" {
		return nil
	}
	_, err := ParseTableStatus(string(f.Status))
	return err
}

// InvalidTableTransition 返回非法餐桌状态切换的验证错误
func InvalidTableTransition(from, to TableStatus) error {
	return errors.NewError(errors.ErrCodeValidation,
		fmt.Sprintf("餐桌状态不能从 %s 切换为 %s", from, to)).
		WithDetails(map[string]any{"from": string(from), "to": string(to)})
}
